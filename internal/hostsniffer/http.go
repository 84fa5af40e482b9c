package hostsniffer

import "strings"

type header struct {
	name  string
	value string
}

// parseRequestLineAndHeaders does a best-effort single-pass parse of an
// HTTP/1.x request's request-line and headers. It is deliberately
// tolerant of a buffer that ends mid-stream (no terminating blank line):
// any header line fully present before the cut is usable, and the sniffer
// only fails if it never saw the header it needed (Host). This is not a
// general-purpose HTTP parser — it never reads more data and never
// validates the body.
func parseRequestLineAndHeaders(data []byte) (path string, headers []header, err error) {
	text := string(data)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "", nil, &ParseError{Reason: "empty request"}
	}

	requestLine := strings.Fields(lines[0])
	if len(requestLine) < 2 {
		return "", nil, &ParseError{Reason: "malformed request line"}
	}
	path = requestLine[1]

	for _, line := range lines[1:] {
		if line == "" {
			break // blank line terminator reached
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			// Either a malformed header or a truncated trailing fragment
			// from a single bounded read; ignore it rather than fail —
			// the headers already parsed still stand.
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		headers = append(headers, header{name: name, value: value})
	}

	return path, headers, nil
}

func lookupHeader(headers []header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.name, name) {
			return h.value, true
		}
	}
	return "", false
}
