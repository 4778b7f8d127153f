package event

// FileChanged is emitted by a change transport for every modified file.
// Path is as reported by the transport; consumers classify it.
type FileChanged struct {
	Path string
}

// QuitRequested asks the frame loop to stop after the current frame.
type QuitRequested struct {
	Reason string
}
