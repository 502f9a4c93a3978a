package latex

import "strings"

// 需要转义的保留字符
var escapes = map[byte]string{
	'&':  `\&`,
	'%':  `\%`,
	'$':  `\$`,
	'#':  `\#`,
	'_':  `\_`,
	'{':  `\{`,
	'}':  `\}`,
	'~':  `\textasciitilde{}`,
	'^':  `\textasciicircum{}`,
	'\\': `\textbackslash{}`,
}

// Escape 转义 LaTeX 保留字符，数学片段（$...$、$$...$$、\(...\)、\[...\]）原样保留。
//
// 未闭合的定界符按普通字符处理并被转义，例如 "costs $5" 输出 "costs \$5"。
// 前面紧跟反斜杠的 $ 不会开启数学片段。
func Escape(text string) string {
	if text == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(text) + len(text)/4)

	for i := 0; i < len(text); {
		if end := mathSpanEnd(text, i); end > i {
			b.WriteString(text[i:end])
			i = end
			continue
		}
		if rep, ok := escapes[text[i]]; ok {
			b.WriteString(rep)
		} else {
			b.WriteByte(text[i])
		}
		i++
	}
	return b.String()
}

// mathSpanEnd 返回从 i 开始的数学片段的结束位置（不含），不是数学片段时返回 i
func mathSpanEnd(text string, i int) int {
	switch {
	case text[i] == '$':
		if i > 0 && text[i-1] == '\\' {
			return i
		}
		if strings.HasPrefix(text[i:], "$$") {
			if end := displayDollarEnd(text, i); end > i {
				return end
			}
		}
		return inlineDollarEnd(text, i)
	case strings.HasPrefix(text[i:], `\(`):
		return delimitedEnd(text, i, `\)`)
	case strings.HasPrefix(text[i:], `\[`):
		return delimitedEnd(text, i, `\]`)
	}
	return i
}

// 行间 $$...$$：内容至少一个字符，\$ 不算结束
func displayDollarEnd(text string, i int) int {
	for j := i + 3; j+1 < len(text); j++ {
		if text[j] == '$' && text[j+1] == '$' && text[j-1] != '\\' {
			return j + 2
		}
	}
	return i
}

// 行内 $...$：内容不能以 $ 开头，\$ 和紧跟另一个 $ 的 $ 都不算结束
func inlineDollarEnd(text string, i int) int {
	if i+1 < len(text) && text[i+1] == '$' {
		return i
	}
	for j := i + 2; j < len(text); j++ {
		if text[j] != '$' || text[j-1] == '\\' {
			continue
		}
		if j+1 < len(text) && text[j+1] == '$' {
			continue
		}
		return j + 1
	}
	return i
}

func delimitedEnd(text string, i int, closing string) int {
	if i+3 > len(text) {
		return i
	}
	if j := strings.Index(text[i+3:], closing); j >= 0 {
		return i + 3 + j + len(closing)
	}
	return i
}
