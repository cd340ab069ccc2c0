package api

// secretFields lists every payload key that must never be echoed back in a
// persisted request's public JSON or in a redacted task-argument repr
// (spec section 7, testable property in section 8).
var secretFields = map[string]bool{
	"cnr_token":                    true,
	"overwrite_from_index_token":   true,
	"overwrite_target_index_token": true,
	"registry_auths":               true,
}

// IsSecretField reports whether key names a field that must be redacted
// wherever request payloads are logged or echoed.
func IsSecretField(key string) bool {
	return secretFields[key]
}

const redactedPlaceholder = "*****"

// RedactArgs returns a shallow copy of args with every secret field's value
// replaced, for use in the dispatcher's task-argument repr (spec section
// 4.7 item 5).
func RedactArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if IsSecretField(k) {
			out[k] = redactedPlaceholder
		} else {
			out[k] = v
		}
	}
	return out
}

// ExtractSecrets pulls the real secret values out of a validated payload
// for in-memory-only delivery to the worker that runs the request; they
// never appear in RedactArgs's output and are never persisted (spec
// section 8's secrecy invariant).
func ExtractSecrets(args map[string]interface{}) map[string]string {
	out := map[string]string{}
	for k := range secretFields {
		if v, ok := args[k].(string); ok && v != "" {
			out[k] = v
		}
	}
	return out
}
