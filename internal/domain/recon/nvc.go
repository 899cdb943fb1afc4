package recon

import (
	"regexp"
	"strings"
)

// nvcPattern matches the opaque invoice codes that join all four legs,
// e.g. "NVC7KVAR66CR". Codes are upper-case alphanumeric after the fixed
// NVC prefix.
var nvcPattern = regexp.MustCompile(`^NVC[A-Z0-9]+$`)

// IsNVCCode reports whether s is a well-formed NVC code.
func IsNVCCode(s string) bool {
	return nvcPattern.MatchString(s)
}

// ParsePaymentReference splits an outbound payment reference of the form
// "{tenant}.{nvc_code}" (e.g. "omnicomtbwa.NVC7KVAR66CR"). The NVC part
// must carry the NVC prefix; references without it are not line-level
// payments and are skipped by the sync engine.
func ParsePaymentReference(ref string) (tenant, nvc string, ok bool) {
	idx := strings.Index(ref, ".")
	if idx < 0 {
		return "", "", false
	}
	tenant = ref[:idx]
	nvc = ref[idx+1:]
	if !strings.HasPrefix(nvc, "NVC") {
		return "", "", false
	}
	return tenant, nvc, true
}
