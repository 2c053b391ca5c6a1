package pipeline

import (
	"github.com/zarigata/MP3paraMIDI/notes"
)

// InvalidInputError is re-exported so callers can classify pipeline
// failures without importing the notes package
type InvalidInputError = notes.InvalidInputError
