package transfer

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/catchup/internal/utils"
)

const (
	BackendAuto   = "auto"
	BackendNative = "native"
	BackendWget   = "wget"
)

var lookPath = exec.LookPath

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

type ProbeOptions struct {
	Backend  string
	Client   *utils.CatchupHTTPClient
	LimitBps int64
}

// Probe picks the transport once at startup. auto prefers wget when it is on
// PATH and falls back to the in-process client otherwise.
func Probe(opts ProbeOptions) (Fetcher, error) {
	client := opts.Client
	if client == nil {
		client = utils.NewCatchupHTTPClient(utils.HTTPClientConfig{})
	}
	native := func() Fetcher {
		return NewHTTPFetcher(client, opts.LimitBps)
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendAuto:
		if path, err := lookPath("wget"); err == nil {
			log.Debug().Str("op", "transfer/probe").Msgf("using wget at %s", path)
			return NewWgetFetcher(path, client.Config(), opts.LimitBps), nil
		}
		log.Debug().Str("op", "transfer/probe").Msg("wget not found, using native transport")
		return native(), nil
	case BackendNative:
		return native(), nil
	case BackendWget:
		path, err := lookPath("wget")
		if err != nil {
			return nil, fmt.Errorf("%w: wget not found in PATH", ErrNoBackend)
		}
		return NewWgetFetcher(path, client.Config(), opts.LimitBps), nil
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrNoBackend, opts.Backend)
	}
}

// RemoteInfo is what the origin reveals about a resource before transfer.
type RemoteInfo struct {
	Size          int64
	AcceptsRanges bool
	Filename      string
}

// Inspect asks the origin for the resource size and range support. A HEAD
// request is tried first; servers that reject it or omit the headers are
// asked for the first byte with a ranged GET.
func Inspect(ctx context.Context, client *utils.CatchupHTTPClient, link string) (RemoteInfo, error) {
	info := RemoteInfo{Size: UnknownSize}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return info, fmt.Errorf("error creating HEAD request: %w", err)
	}
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			info.Filename = filenameFromDisposition(resp.Header.Get("Content-Disposition"))
			info.AcceptsRanges = resp.Header.Get("Accept-Ranges") == "bytes"
			if resp.ContentLength > 0 {
				info.Size = resp.ContentLength
			}
			if info.AcceptsRanges && info.Size > 0 {
				return info, nil
			}
		}
		log.Debug().Str("op", "transfer/probe").Msgf("HEAD returned %s, trying ranged GET", resp.Status)
	} else {
		log.Debug().Str("op", "transfer/probe").Err(err).Msg("HEAD failed, trying ranged GET")
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return info, fmt.Errorf("error creating GET request: %w", err)
	}
	req.Close = true
	req.Header.Set("Range", "bytes=0-0")
	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("error probing remote: %w", err)
	}
	defer resp.Body.Close()
	if info.Filename == "" {
		info.Filename = filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		info.AcceptsRanges = true
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil && total > 0 {
			info.Size = total
		}
	case http.StatusOK:
		info.AcceptsRanges = false
		if resp.ContentLength > 0 {
			info.Size = resp.ContentLength
		}
	default:
		return info, newStatusError(resp.StatusCode, resp.Status)
	}
	return info, nil
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return filenameRegex.ReplaceAllString(unescaped, "_")
	}
	return ""
}
