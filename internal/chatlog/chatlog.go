// Package chatlog writes the durable per-user conversation audit trail:
// append-only text files, one per user, one line per turn.
package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haven-labs/mindhaven/internal/models"
)

const (
	dirName  = "chat_logs"
	fileMode = 0o600
	dirMode  = 0o755
)

// Writer appends turn lines to chat_logs/<user>.txt under the state
// directory. Appends for the same user are serialized.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// NewWriter creates the chat_logs directory under stateDir and returns a
// Writer for it.
func NewWriter(stateDir string) (*Writer, error) {
	dir := filepath.Join(stateDir, dirName)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create chat log directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Append writes one `[timestamp] role: content` line to the user's log file.
// Newlines in the content are flattened so one turn is always one line.
func (w *Writer) Append(userID string, role models.Role, content string, ts time.Time) error {
	line := fmt.Sprintf("[%s] %s: %s\n",
		ts.Format("2006-01-02 15:04:05"),
		role,
		strings.ReplaceAll(content, "\n", " "))

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, sanitizeUserID(userID)+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
	if err != nil {
		return fmt.Errorf("failed to open chat log for %s: %w", userID, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to append chat log for %s: %w", userID, err)
	}
	return nil
}

// sanitizeUserID keeps the file name safe regardless of what the platform
// hands us as a user identifier.
func sanitizeUserID(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
