package spoofer

// Checksum16 计算 16 位逐字节累加和，跳过 off 处的 2 字节校验字段本身。
func Checksum16(img []byte, off int) uint16 {
	var sum uint16
	for i, b := range img {
		if i == off || i == off+1 {
			continue
		}
		sum += uint16(b)
	}
	return sum
}
