package signer

// Method is the closed set of remote-signer request kinds. Anything the
// parser does not recognize becomes MethodUnknown.
type Method int

const (
	MethodUnknown Method = iota
	MethodConnect
	MethodGetPublicKey
	MethodSignEvent
	MethodNip04Encrypt
	MethodNip04Decrypt
	MethodNip44Encrypt
	MethodNip44Decrypt
	MethodPing
)

var methodNames = map[Method]string{
	MethodConnect:      "connect",
	MethodGetPublicKey: "get_public_key",
	MethodSignEvent:    "sign_event",
	MethodNip04Encrypt: "nip04_encrypt",
	MethodNip04Decrypt: "nip04_decrypt",
	MethodNip44Encrypt: "nip44_encrypt",
	MethodNip44Decrypt: "nip44_decrypt",
	MethodPing:         "ping",
}

var methodsByName = func() map[string]Method {
	out := make(map[string]Method, len(methodNames))
	for m, name := range methodNames {
		out[name] = m
	}
	return out
}()

func ParseMethod(name string) Method {
	if m, ok := methodsByName[name]; ok {
		return m
	}
	return MethodUnknown
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// IsCipher reports whether m proxies an encrypt or decrypt operation.
func (m Method) IsCipher() bool {
	switch m {
	case MethodNip04Encrypt, MethodNip04Decrypt, MethodNip44Encrypt, MethodNip44Decrypt:
		return true
	default:
		return false
	}
}
