package hostsniffer

// extractSNI walks a raw TLS ClientHello record and returns the
// server_name extension value. It never buffers across reads — if the
// extension isn't present in the bytes given, it fails rather than wait
// for more.
//
// Layout walked (all offsets relative to the start of data):
//
//	record header:      type(1) version(2) length(2)                 = 5 bytes
//	handshake header:    msg_type(1) length(3)                        = 4 bytes
//	client_version(2) random(32)                                      = 34 bytes
//	session_id:          length(1) + session_id
//	cipher_suites:       length(2) + suites
//	compression_methods: length(1) + methods
//	extensions:          length(2) + extension list
func extractSNI(data []byte) (string, error) {
	if len(data) < 5 {
		return "", &ParseError{Reason: "too short for a TLS record header"}
	}
	if data[0] != 0x16 {
		return "", &ParseError{Reason: "not a TLS handshake record"}
	}

	pos := 5
	if len(data) < pos+4 {
		return "", &ParseError{Reason: "truncated handshake header"}
	}
	if data[pos] != 0x01 {
		return "", &ParseError{Reason: "handshake message is not a ClientHello"}
	}
	pos += 4

	if len(data) < pos+34 {
		return "", &ParseError{Reason: "truncated ClientHello version/random"}
	}
	pos += 34

	if len(data) < pos+1 {
		return "", &ParseError{Reason: "truncated session id length"}
	}
	sessionIDLen := int(data[pos])
	pos += 1 + sessionIDLen

	if len(data) < pos+2 {
		return "", &ParseError{Reason: "truncated cipher suites length"}
	}
	cipherSuitesLen := int(data[pos])<<8 | int(data[pos+1])
	pos += 2 + cipherSuitesLen

	if len(data) < pos+1 {
		return "", &ParseError{Reason: "truncated compression methods length"}
	}
	compressionLen := int(data[pos])
	pos += 1 + compressionLen

	if len(data) < pos+2 {
		return "", &ParseError{Reason: "truncated extensions length"}
	}
	extensionsLen := int(data[pos])<<8 | int(data[pos+1])
	pos += 2

	endPos := pos + extensionsLen
	if endPos > len(data) {
		endPos = len(data)
	}

	for pos+4 <= endPos {
		extType := int(data[pos])<<8 | int(data[pos+1])
		extLen := int(data[pos+2])<<8 | int(data[pos+3])
		pos += 4

		if extType == 0x0000 { // server_name
			extEnd := pos + extLen
			if extEnd > endPos {
				extEnd = endPos
			}
			return parseServerNameExtension(data[pos:extEnd])
		}
		pos += extLen
	}

	return "", &ParseError{Reason: "ClientHello has no server_name extension"}
}

// parseServerNameExtension parses the server_name_list body: a 2-byte
// list length, then repeated (name_type(1), name_len(2), name) entries.
// We take the first hostname entry (name_type == 0).
func parseServerNameExtension(body []byte) (string, error) {
	if len(body) < 5 {
		return "", &ParseError{Reason: "truncated server_name extension"}
	}
	if body[2] != 0x00 {
		return "", &ParseError{Reason: "server_name entry is not a hostname"}
	}
	nameLen := int(body[3])<<8 | int(body[4])
	if len(body) < 5+nameLen {
		return "", &ParseError{Reason: "truncated server_name hostname"}
	}
	return string(body[5 : 5+nameLen]), nil
}
