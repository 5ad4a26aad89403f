package helper

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gosimple/slug"
	"github.com/rs/zerolog/log"
)

// Slugify derives a stable URL-safe slug for a book title.
func Slugify(s string) string {
	out := slug.Make(s)
	if out == "" {
		return "book"
	}
	return out
}

// CreateFolder creates the folder if it does not exist
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder %s: %v", path, err)
	}
	return nil
}

// pretty print
func PrettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn().Msg("Error pretty printing")
	}
	fmt.Println(string(b))
}
