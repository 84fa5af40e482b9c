package hostsniffer

import "testing"

func TestSniffConnect(t *testing.T) {
	data := []byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	rt, target, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if rt != Connect {
		t.Errorf("RequestType = %v, want Connect", rt)
	}
	if target != "example.com:443" {
		t.Errorf("target = %q, want example.com:443", target)
	}
}

func TestSniffHTTPDefaultPort(t *testing.T) {
	data := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")
	rt, target, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if rt != Other {
		t.Errorf("RequestType = %v, want Other", rt)
	}
	if target != "example.com:80" {
		t.Errorf("target = %q, want example.com:80", target)
	}
}

func TestSniffHTTPExplicitPort(t *testing.T) {
	data := []byte("GET / HTTP/1.1\r\nHost: example.com:8080\r\n\r\n")
	_, target, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if target != "example.com:8080" {
		t.Errorf("target = %q, want example.com:8080", target)
	}
}

func TestSniffHTTPHTTPSPath(t *testing.T) {
	data := []byte("GET https://example.com/ HTTP/1.1\r\nHost: example.com\r\n\r\n")
	_, target, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if target != "example.com:443" {
		t.Errorf("target = %q, want example.com:443", target)
	}
}

// TestSniffHTTPPartialNoTerminator covers a single bounded read that
// contains only the request line and Host header, with no blank-line
// terminator: it must still succeed.
func TestSniffHTTPPartialNoTerminator(t *testing.T) {
	data := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n")
	_, target, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if target != "example.com:80" {
		t.Errorf("target = %q, want example.com:80", target)
	}
}

func TestSniffHTTPMissingHost(t *testing.T) {
	data := []byte("GET / HTTP/1.1\r\nUser-Agent: test\r\n\r\n")
	if _, _, err := Sniff(data); err == nil {
		t.Error("expected ParseError for missing Host header")
	}
}

func TestSniffTLSClientHelloSNI(t *testing.T) {
	data := buildClientHello("localhost")
	rt, target, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if rt != Other {
		t.Errorf("RequestType = %v, want Other", rt)
	}
	if target != "localhost:443" {
		t.Errorf("target = %q, want localhost:443", target)
	}
}

func TestSniffTLSNoSNI(t *testing.T) {
	data := buildClientHelloNoSNI()
	if _, _, err := Sniff(data); err == nil {
		t.Error("expected ParseError for ClientHello without SNI")
	}
}

func TestSniffUnknownFirstBytes(t *testing.T) {
	if _, _, err := Sniff([]byte("\x00\x01garbage")); err == nil {
		t.Error("expected ParseError for unrecognized first bytes")
	}
}

// buildClientHello constructs a minimal but structurally valid TLS 1.2
// ClientHello record carrying a single SNI hostname, matching the byte
// layout extractSNI walks.
func buildClientHello(hostname string) []byte {
	serverName := []byte(hostname)

	// server_name extension body: list_len(2) name_type(1) name_len(2) name
	sniExtBody := make([]byte, 0, 5+len(serverName))
	listLen := len(serverName) + 3
	sniExtBody = append(sniExtBody, byte(listLen>>8), byte(listLen&0xff))
	sniExtBody = append(sniExtBody, 0x00) // name_type: host_name
	sniExtBody = append(sniExtBody, byte(len(serverName)>>8), byte(len(serverName)&0xff))
	sniExtBody = append(sniExtBody, serverName...)

	// extension: type(2)=0x0000 len(2) body
	ext := make([]byte, 0, 4+len(sniExtBody))
	ext = append(ext, 0x00, 0x00)
	ext = append(ext, byte(len(sniExtBody)>>8), byte(len(sniExtBody)&0xff))
	ext = append(ext, sniExtBody...)

	return assembleClientHello(ext)
}

func buildClientHelloNoSNI() []byte {
	return assembleClientHello(nil)
}

func assembleClientHello(extensions []byte) []byte {
	var body []byte
	body = append(body, 0x03, 0x03) // client_version TLS 1.2
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session_id length 0
	body = append(body, 0x00, 0x02, 0x00, 0x2f) // cipher_suites: len=2, one suite
	body = append(body, 0x01, 0x00)             // compression_methods: len=1, null

	extLen := len(extensions)
	body = append(body, byte(extLen>>8), byte(extLen&0xff))
	body = append(body, extensions...)

	handshake := make([]byte, 0, 4+len(body))
	handshake = append(handshake, 0x01) // ClientHello
	hLen := len(body)
	handshake = append(handshake, byte(hLen>>16), byte(hLen>>8), byte(hLen))
	handshake = append(handshake, body...)

	record := make([]byte, 0, 5+len(handshake))
	record = append(record, 0x16)       // handshake record
	record = append(record, 0x03, 0x03) // record version
	rLen := len(handshake)
	record = append(record, byte(rLen>>8), byte(rLen&0xff))
	record = append(record, handshake...)

	return record
}
