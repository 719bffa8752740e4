package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// downloadFile opens the content of a file previously sent to the bot.
func (b *Bot) downloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"fileID", fileID)
		}

		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return resp.Body, nil
}
