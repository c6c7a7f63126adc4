package packetizer

// Source is a continuous stream of interleaved samples. Read fills dst and
// returns the number of samples written; it returns io.EOF, possibly together
// with a final partial read, once the stream is exhausted.
type Source interface {
	Read(dst []float32) (int, error)
}

// Resetter is implemented by sources that can rewind to their start. Looping
// streams require it.
type Resetter interface {
	Reset() error
}

// Seeker is implemented by sources with a frame position.
type Seeker interface {
	Position() int64
	SetPosition(frame int64) error
}

// Cloner is implemented by sources that can open an independent copy of
// themselves, positioned at the start.
type Cloner interface {
	Clone() (Source, error)
}
