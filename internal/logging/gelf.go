package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// GelfHandler returns a JSON handler that ships records to the Graylog
// server at address over UDP. Close the returned closer on shutdown.
func GelfHandler(address, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GELF writer for %s: %w", address, err)
	}
	return slog.NewJSONHandler(w, handlerOptions(level)), w, nil
}
