package pncp

import (
	"fmt"
	"strings"
)

// DigitsOnly 去掉非数字字符
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatCNPJ 00.000.000/0000-00，位数不对原样返回
func FormatCNPJ(cnpj string) string {
	d := DigitsOnly(cnpj)
	if len(d) != 14 {
		return cnpj
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", d[0:2], d[2:5], d[5:8], d[8:12], d[12:14])
}

// ValidCNPJ 14位且校验位正确
func ValidCNPJ(cnpj string) bool {
	d := DigitsOnly(cnpj)
	if len(d) != 14 {
		return false
	}
	if strings.Count(d, d[:1]) == 14 {
		return false
	}
	return checkDigit(d[:12], []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}) == d[12] &&
		checkDigit(d[:13], []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}) == d[13]
}

func checkDigit(digits string, weights []int) byte {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	r := sum % 11
	if r < 2 {
		return '0'
	}
	return byte('0' + 11 - r)
}
