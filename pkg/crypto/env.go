package crypto

import "encoding/base64"

// SealEnv encrypts every value in a plaintext env map, base64 encoding the
// ciphertext so the result stays JSON-safe inside aggregate snapshots.
func SealEnv(secret string, env map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	sealed := make(map[string]string, len(env))
	for key, value := range env {
		ciphertext, err := EncryptString(secret, value)
		if err != nil {
			return nil, err
		}
		sealed[key] = base64.StdEncoding.EncodeToString(ciphertext)
	}
	return sealed, nil
}

// OpenEnv decrypts a sealed env map produced by SealEnv.
func OpenEnv(secret string, sealed map[string]string) (map[string]string, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(sealed))
	for key, encoded := range sealed {
		ciphertext, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
		value, err := DecryptToString(secret, ciphertext)
		if err != nil {
			return nil, err
		}
		env[key] = value
	}
	return env, nil
}
