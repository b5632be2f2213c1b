package repo

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrInvalidRemote indicates a remote URL without a usable repository path.
var ErrInvalidRemote = errors.New("invalid git remote")

// NameFromRemote extracts the repository name from a git remote URL.
// Supported forms: https://host/org/repo(.git), ssh://git@host/org/repo.git,
// git@host:org/repo.git, host/org/repo and local paths.
func NameFromRemote(raw string) (string, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return "", ErrInvalidRemote
	}
	lower := strings.ToLower(input)

	var repoPath string
	switch {
	case strings.Contains(lower, "://"):
		parsed, err := url.Parse(input)
		if err != nil {
			return "", err
		}
		repoPath = parsed.Path
	case strings.Contains(input, "@") && strings.Contains(input, ":"):
		_, rest, ok := strings.Cut(input, ":")
		if !ok || rest == "" {
			return "", ErrInvalidRemote
		}
		repoPath = rest
	default:
		repoPath = input
	}
	return repoNameFromPath(repoPath)
}

func repoNameFromPath(value string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(value), "/")
	if trimmed == "" {
		return "", ErrInvalidRemote
	}
	base := path.Base(strings.TrimSuffix(trimmed, ".git"))
	if base == "" || base == "." || base == "/" {
		return "", ErrInvalidRemote
	}
	return base, nil
}
