package pncp

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Identifier 平台记录标识：机构CNPJ + 年份 + 序号
type Identifier struct {
	CNPJ     string `json:"cnpj"`
	Year     int    `json:"year"`
	Sequence int    `json:"sequence"`
}

// ControlNumber 平台控制号 cnpj-1-000123/2025
func (id Identifier) ControlNumber() string {
	return fmt.Sprintf("%s-1-%06d/%d", id.CNPJ, id.Sequence, id.Year)
}

// DuplicateParser 从"记录已存在"类错误消息中解析已有记录标识
// 平台消息格式不稳定，解析逻辑只放在这里，可整体替换
type DuplicateParser interface {
	Parse(message string) (Identifier, bool)
}

// RegexDuplicateParser 默认实现：先匹配控制号，再按"ano/sequencial"字样兜底
type RegexDuplicateParser struct {
	// CNPJ 兜底解析时消息中没有CNPJ，用本机构的
	CNPJ string
}

var (
	controlNumberPattern = regexp.MustCompile(`(\d{14})-(\d+)-(\d{1,6})/(\d{4})`)
	yearPattern          = regexp.MustCompile(`(?i)ano(?:compra)?\D{0,5}(\d{4})`)
	sequencePattern      = regexp.MustCompile(`(?i)sequencial(?:compra)?\D{0,5}(\d{1,6})`)
)

var duplicateMarkers = []string{"ja existe", "já existe", "already exists", "duplicad", "ja cadastrad", "já cadastrad"}

// LooksDuplicate 消息是否表示记录已存在
func LooksDuplicate(message string) bool {
	lower := strings.ToLower(message)
	for _, m := range duplicateMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Parse 解析不出完整三元组时返回false
func (p RegexDuplicateParser) Parse(message string) (Identifier, bool) {
	if !LooksDuplicate(message) {
		return Identifier{}, false
	}

	if m := controlNumberPattern.FindStringSubmatch(message); m != nil {
		seq, _ := strconv.Atoi(m[3])
		year, _ := strconv.Atoi(m[4])
		return Identifier{CNPJ: m[1], Year: year, Sequence: seq}, seq > 0
	}

	ym := yearPattern.FindStringSubmatch(message)
	sm := sequencePattern.FindStringSubmatch(message)
	if ym == nil || sm == nil || p.CNPJ == "" {
		return Identifier{}, false
	}
	year, _ := strconv.Atoi(ym[1])
	seq, _ := strconv.Atoi(sm[1])
	if seq <= 0 {
		return Identifier{}, false
	}
	return Identifier{CNPJ: DigitsOnly(p.CNPJ), Year: year, Sequence: seq}, true
}
