package scanner

// Kind classifies a C file by its role in a build.
type Kind string

const (
	KindSource Kind = "source"
	KindHeader Kind = "header"
)

// Classify returns the kind of a file from its extension, or "" for files
// canary does not handle. ".C" is left out since it usually means C++.
func Classify(ext string) Kind {
	switch ext {
	case ".c":
		return KindSource
	case ".h":
		return KindHeader
	default:
		return ""
	}
}
