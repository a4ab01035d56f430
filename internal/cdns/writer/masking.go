package writer

import (
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maskCacheSize bounds the memoization cache for masked addresses. Client
// populations are long-tailed, so a modest cache absorbs most lookups.
const maskCacheSize = 4096

// MaskAddress returns the network-order bytes of ip truncated to prefix
// bits: ceil(prefix/8) bytes with all bits beyond the prefix zeroed. A zero
// prefix yields empty bytes. Masking is idempotent.
func MaskAddress(ip net.IP, prefix uint) []byte {
	raw := ip.To4()
	if raw == nil {
		raw = ip.To16()
	}
	nbytes := (prefix + 7) / 8
	if nbytes > uint(len(raw)) {
		nbytes = uint(len(raw))
	}
	masked := make([]byte, nbytes)
	copy(masked, raw[:nbytes])
	if nbytes > 0 {
		masked[nbytes-1] &= 0xff << (nbytes*8 - prefix)
	}
	return masked
}

// addressMasker applies the configured per-role, per-family prefix lengths,
// memoizing results keyed by role and raw address.
type addressMasker struct {
	clientV4 uint
	clientV6 uint
	serverV4 uint
	serverV6 uint
	cache    *lru.Cache[string, []byte]
}

func newAddressMasker(clientV4, clientV6, serverV4, serverV6 uint) (*addressMasker, error) {
	cache, err := lru.New[string, []byte](maskCacheSize)
	if err != nil {
		return nil, err
	}
	return &addressMasker{
		clientV4: clientV4,
		clientV6: clientV6,
		serverV4: serverV4,
		serverV6: serverV6,
		cache:    cache,
	}, nil
}

// mask returns the stored form of ip for the given role.
func (m *addressMasker) mask(ip net.IP, isClient bool) []byte {
	role := byte('s')
	if isClient {
		role = 'c'
	}
	key := string(role) + string(ip.To16())
	if masked, ok := m.cache.Get(key); ok {
		return masked
	}

	var prefix uint
	if ip.To4() != nil {
		if isClient {
			prefix = m.clientV4
		} else {
			prefix = m.serverV4
		}
	} else {
		if isClient {
			prefix = m.clientV6
		} else {
			prefix = m.serverV6
		}
	}
	masked := MaskAddress(ip, prefix)
	m.cache.Add(key, masked)
	return masked
}
