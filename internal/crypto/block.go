package crypto

// Options controls which optional transforms a RES_FILE payload passes
// through. Both default to disabled (raw bytes on the wire).
type Options struct {
	Compress bool
	Encrypt  bool
	PSK      []byte
}

// EncodeBlock applies the sender-side transforms in spec order: compress,
// then encrypt. When both are enabled the compressed bytes are the AEAD
// plaintext.
func EncodeBlock(opts Options, raw []byte) ([]byte, error) {
	payload := raw
	if opts.Compress {
		c, err := Compress(payload)
		if err != nil {
			return nil, err
		}
		payload = c
	}
	if opts.Encrypt {
		sealed, err := Encrypt(opts.PSK, payload)
		if err != nil {
			return nil, err
		}
		payload = EncodeSealed(sealed)
	}
	return payload, nil
}

// DecodeBlock reverses EncodeBlock: decrypt, then decompress.
func DecodeBlock(opts Options, payload []byte) ([]byte, error) {
	data := payload
	if opts.Encrypt {
		sealed, err := DecodeSealed(data)
		if err != nil {
			return nil, err
		}
		plain, err := Decrypt(opts.PSK, sealed)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	if opts.Compress {
		d, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = d
	}
	return data, nil
}
