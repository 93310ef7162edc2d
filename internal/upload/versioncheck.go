package upload

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// checkVersion asks the server for the minimum accepted client version and
// refuses the run client-side when this build is below it.
func (u *Uploader) checkVersion(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.versionURL, nil)
	if err != nil {
		return fmt.Errorf("upload: build version request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: version check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload: version check: unexpected status %d", resp.StatusCode)
	}

	allowed, err := parseAllowedVersion(resp.Body)
	if err != nil {
		return fmt.Errorf("upload: version check: %w", err)
	}
	if !versionAccepted(u.clientVersion, allowed) {
		u.logger.Error("server refused client version",
			"client", u.clientVersion, "minimum", allowed)
		return ErrVersionNotAllowed
	}
	return nil
}

// parseAllowedVersion extracts the ALLOWED element from the version
// document. The value may sit in a version attribute or in character data.
func parseAllowedVersion(r io.Reader) (string, error) {
	dec := xml.NewDecoder(io.LimitReader(r, 64*1024))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("no allowed element in version document")
		}
		if err != nil {
			return "", fmt.Errorf("parse version document: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, "allowed") {
			continue
		}
		for _, attr := range start.Attr {
			if strings.EqualFold(attr.Name.Local, "version") {
				return strings.TrimSpace(attr.Value), nil
			}
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return "", fmt.Errorf("parse allowed element: %w", err)
		}
		return strings.TrimSpace(text), nil
	}
}

// versionAccepted compares dotted numeric versions; "*" accepts anything.
// Segments that do not parse as numbers fall back to string equality.
func versionAccepted(client, minimum string) bool {
	if minimum == "" || minimum == "*" {
		return true
	}
	if client == minimum {
		return true
	}
	cs := strings.Split(client, ".")
	ms := strings.Split(minimum, ".")
	for i := 0; i < len(cs) || i < len(ms); i++ {
		cv, cok := segment(cs, i)
		mv, mok := segment(ms, i)
		if !cok || !mok {
			return false
		}
		if cv != mv {
			return cv > mv
		}
	}
	return true
}

func segment(parts []string, i int) (int, bool) {
	if i >= len(parts) {
		return 0, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0, false
	}
	return n, true
}
