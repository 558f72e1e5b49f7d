// Package errs defines the sentinel errors shared across fwpack packages.
//
// Errors returned by fwpack wrap one of these sentinels so callers can test for
// a class of failure with errors.Is, independent of the message detail.
package errs

import "errors"

// Layout and packing errors.
var (
	ErrInvalidAlign       = errors.New("alignment must be a power of two")
	ErrAlignMismatch      = errors.New("value does not match alignment")
	ErrSizeTooSmall       = errors.New("size is smaller than contents")
	ErrOverlap            = errors.New("entries overlap")
	ErrOutsideSection     = errors.New("entry is outside its section")
	ErrUnresolvedContents = errors.New("could not complete processing of contents")
	ErrUnknownEntryType   = errors.New("unknown entry type")
	ErrMissingProperty    = errors.New("missing required property")
	ErrInvalidProperty    = errors.New("invalid property value")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrSizeChanged        = errors.New("entry size changed")
)

// Symbol patching errors.
var (
	ErrInvalidSymbol    = errors.New("invalid symbol")
	ErrSymbolSize       = errors.New("unsupported symbol size")
	ErrSymbolOutOfRange = errors.New("symbol lies outside entry contents")
	ErrInvalidELF       = errors.New("invalid ELF file")
)

// Container and content errors.
var (
	ErrInvalidHeader       = errors.New("invalid header")
	ErrUnknownFipType      = errors.New("unknown FIP entry type")
	ErrNoSpace             = errors.New("no space for data")
	ErrSlotTooSmall        = errors.New("data does not fit in entry slot")
	ErrNotSupported        = errors.New("operation not supported")
	ErrMissingBlob         = errors.New("missing external blob")
	ErrMissingTool         = errors.New("missing tool")
	ErrUnknownCompression  = errors.New("unknown compression algorithm")
	ErrInvalidLayout       = errors.New("invalid layout description")
	ErrInvalidImageMap     = errors.New("invalid image map")
	ErrInvalidBoardConfig  = errors.New("invalid board config")
	ErrCorruptedCompressed = errors.New("corrupted compressed data")
)
