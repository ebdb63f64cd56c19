package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizedDescriptionLength 归一化描述的截断长度
const normalizedDescriptionLength = 100

// detailDescriptionLength 导入结果中描述的显示长度
const detailDescriptionLength = 60

// NormalizeDescription 小写、去掉变音符号、只保留字母数字并截断，用于判重
func NormalizeDescription(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		stripped = strings.ToLower(s)
	}

	var b strings.Builder
	n := 0
	for _, r := range stripped {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			n++
			if n == normalizedDescriptionLength {
				break
			}
		}
	}
	return b.String()
}

// DuplicateIndex 计划内已有的目录编码和归一化描述
type DuplicateIndex struct {
	codes        map[string]bool
	descriptions map[string]bool
}

// NewDuplicateIndex 创建空索引
func NewDuplicateIndex() *DuplicateIndex {
	return &DuplicateIndex{codes: map[string]bool{}, descriptions: map[string]bool{}}
}

// Add 登记一行
func (d *DuplicateIndex) Add(catalogCode, description string) {
	if code := strings.TrimSpace(catalogCode); code != "" {
		d.codes[code] = true
	}
	d.descriptions[NormalizeDescription(description)] = true
}

// Check 判断是否重复，返回原因
func (d *DuplicateIndex) Check(catalogCode, description string) (bool, string) {
	if code := strings.TrimSpace(catalogCode); code != "" && d.codes[code] {
		return true, "catalog code " + code + " already exists"
	}
	if d.descriptions[NormalizeDescription(description)] {
		return true, "similar description already exists"
	}
	return false, ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
