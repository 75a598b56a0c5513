package core

// itoa converts an integer to a string without using fmt package
// This is a lightweight alternative for embedded systems
func itoa(n int) string {
	return itoa64(int64(n))
}

// itoa64 is itoa for values that may not fit a 32-bit int
func itoa64(n int64) string {
	if n < 0 {
		// -n overflows for the minimum value, go through uint64
		return "-" + u64toa(uint64(-(n+1))+1)
	}
	return u64toa(uint64(n))
}

// utoa converts an unsigned integer to a string
func utoa(n uint32) string {
	return u64toa(uint64(n))
}

func u64toa(n uint64) string {
	if n == 0 {
		return "0"
	}

	var buf [20]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}

// appendPadded appends n in decimal, left-padded with zeros to width digits
func appendPadded(dst []byte, n uint32, width int) []byte {
	var buf [10]byte
	pos := len(buf)
	for n > 0 || pos == len(buf) {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	for i := len(buf) - pos; i < width; i++ {
		dst = append(dst, '0')
	}
	return append(dst, buf[pos:]...)
}

// valueToString converts a dictionary constant to its string form
func valueToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return itoa(val)
	case int32:
		return itoa(int(val))
	case int64:
		return itoa64(val)
	case uint16:
		return utoa(uint32(val))
	case uint32:
		return utoa(val)
	case uint64:
		return u64toa(val)
	default:
		// In production firmware, all types should be known
		return ""
	}
}
