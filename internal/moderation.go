package internal

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"shm-chat/moderation"
)

// LoadModerator builds the moderator from CENSORED_DIR, or from the lists
// embedded in the binary when the key is empty. It returns nil when
// moderation is disabled.
func LoadModerator(config Config, log *slog.Logger) (*moderation.Moderator, error) {
	if !config.ModerationEnabled {
		return nil, nil
	}
	char, err := CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}

	var source fs.FS = moderation.DefaultWords
	dir := moderation.DefaultDir
	if config.CensoredDir != "" {
		source, dir = os.DirFS(config.CensoredDir), "."
	}

	data, err := moderation.NewCensoredLoader(source).LoadAll(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load censored words: %w", err)
	}
	log.Info("Moderation enabled", "languages", data.Languages, "words", len(data.Words))
	return moderation.NewModerator(data.Words, char, log)
}
