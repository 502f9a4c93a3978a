package latex

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnsupportedQuestionType = errors.New("unsupported question type")
	ErrInvalidIllustration     = errors.New("illustration filename cannot be used in LaTeX")
)

// 题型，与数据库中存储的值一致
const (
	TypeSingle   = "simple"
	TypeMultiple = "multiple-choice"
	TypeOpen     = "open"
)

// Meta 试卷级别的元数据
type Meta struct {
	Title               string
	Institution         string
	Instructions        string
	Language            string
	IDDigits            int
	RandomQuestionOrder bool
	RandomAnswerOrder   bool
}

type Subject struct {
	ID        string
	Title     string
	SortOrder int
	Questions []Question
}

type Question struct {
	Number               int
	Text                 string
	Type                 string
	Points               *float64
	IllustrationFilename string
	IllustrationWidth    *float64
	NumberOfLines        int
	Answers              []Answer
}

type Answer struct {
	Text    string
	Correct bool
}

// IllustrationDir 编译会话中插图所在的相对目录
const IllustrationDir = "illustrations"

const defaultOpenLines = 5

// Compile 生成 automultiplechoice 方言的完整 LaTeX 源文件。
// 相同输入总是得到逐字节相同的输出；题目和选项的顺序由调用方决定。
func Compile(meta Meta, subjects []Subject) (string, error) {
	ordered := sortedSubjects(subjects)

	lines := []string{
		`\documentclass[12pt,a4paper]{article}`,
		`\usepackage[utf8]{inputenc}`,
		`\usepackage[T1]{fontenc}`,
		`\usepackage{graphicx}`,
		`\usepackage{float}`,
		`\usepackage{amsmath}`,
		`\usepackage{amssymb}`,
		`\usepackage[` + packageOptions(meta) + `]{automultiplechoice}`,
		`\setlength{\parindent}{0pt}`,
		``,
		`\begin{document}`,
		``,
	}

	// 题组定义
	for _, s := range ordered {
		lines = append(lines, `\element{`+groupName(s)+`}{`)
		for _, q := range s.Questions {
			block, err := renderQuestion(q)
			if err != nil {
				return "", err
			}
			lines = append(lines, block...)
		}
		lines = append(lines, `}`, ``)
	}

	lines = append(lines, `\onecopy{1}{`, ``)
	lines = append(lines, header(meta)...)

	for _, s := range ordered {
		if s.Title != "" {
			lines = append(lines, `\section*{`+Escape(s.Title)+`}`)
		}
		lines = append(lines,
			`\melangegroupe{`+groupName(s)+`}`,
			`\restituegroupe{`+groupName(s)+`}`,
			``,
		)
	}

	lines = append(lines,
		`\AMCcleardoublepage`,
		`}`,
		``,
		`\end{document}`,
		``,
	)
	return strings.Join(lines, "\n"), nil
}

// 未开启随机顺序时显式要求固定顺序
func packageOptions(meta Meta) string {
	var opts []string
	if !meta.RandomQuestionOrder {
		opts = append(opts, "noshufflegroups")
	}
	if !meta.RandomAnswerOrder {
		opts = append(opts, "ordre")
	}
	opts = append(opts, "bloc")
	return strings.Join(opts, ",")
}

func header(meta Meta) []string {
	lines := []string{
		`\begin{center}`,
		`  \Large\textbf{` + Escape(meta.Title) + `}`,
		`\end{center}`,
		``,
	}
	if meta.Institution != "" {
		lines = append(lines,
			`\noindent`,
			`{\small `+Escape(meta.Institution)+`}`,
			``,
		)
	}
	if meta.Instructions != "" {
		lines = append(lines,
			`\vspace{1em}`,
			`\textit{`+Escape(meta.Instructions)+`}`,
			``,
		)
	}
	if meta.IDDigits > 0 {
		lines = append(lines,
			`{\setlength{\parindent}{0pt}\hspace*{\fill}\AMCcodeGridInt{etu}{`+strconv.Itoa(meta.IDDigits)+`}\hspace*{\fill}}`,
			``,
		)
	}
	return lines
}

func renderQuestion(q Question) ([]string, error) {
	label := strconv.Itoa(q.Number)
	var lines []string

	switch q.Type {
	case TypeOpen:
		n := q.NumberOfLines
		if n <= 0 {
			n = defaultOpenLines
		}
		points := 0.0
		if q.Points != nil {
			points = *q.Points
		}
		fig, err := illustration(q)
		if err != nil {
			return nil, err
		}
		lines = append(lines, `\begin{question}{`+label+`}`, Escape(q.Text))
		lines = append(lines, fig...)
		lines = append(lines,
			`\AMCOpen{lines=`+strconv.Itoa(n)+`}{`+
				`\wrongchoice[W]{W}\scoring{0}`+
				`\wrongchoice[P]{P}\scoring{`+formatNumber(points/2)+`}`+
				`\correctchoice[C]{C}\scoring{`+formatNumber(points)+`}}`,
			`\end{question}`,
		)
		return lines, nil
	case TypeSingle, TypeMultiple:
	default:
		return nil, fmt.Errorf("%w: %q (question %d)", ErrUnsupportedQuestionType, q.Type, q.Number)
	}

	env := "question"
	if q.Type == TypeMultiple {
		env = "questionmult"
	}
	lines = append(lines, `\begin{`+env+`}{`+label+`}`)
	if q.Points != nil {
		lines = append(lines, `\bareme{b=`+formatNumber(*q.Points)+`}`)
	}
	fig, err := illustration(q)
	if err != nil {
		return nil, err
	}
	lines = append(lines, Escape(q.Text))
	lines = append(lines, fig...)

	if len(q.Answers) > 0 {
		lines = append(lines, `\begin{reponses}`)
		for _, a := range q.Answers {
			cmd := `\mauvaise`
			if a.Correct {
				cmd = `\bonne`
			}
			lines = append(lines, `  `+cmd+`{`+Escape(a.Text)+`}`)
		}
		lines = append(lines, `\end{reponses}`)
	}
	lines = append(lines, `\end{`+env+`}`)
	return lines, nil
}

// ValidIllustrationName 文件名原样写入 \includegraphics，不能含保留字符、空白或路径分隔符
func ValidIllustrationName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "&%$#{}~^\\/ \t\r\n")
}

func illustration(q Question) ([]string, error) {
	if q.IllustrationFilename == "" {
		return nil, nil
	}
	if !ValidIllustrationName(q.IllustrationFilename) {
		return nil, fmt.Errorf("%w: %q (question %d)", ErrInvalidIllustration, q.IllustrationFilename, q.Number)
	}
	ratio := 1.0
	if q.IllustrationWidth != nil && *q.IllustrationWidth > 0 {
		ratio = *q.IllustrationWidth / 100
	}
	return []string{
		`\begin{figure}[H]`,
		`  \centering`,
		`  \includegraphics[width=` + formatNumber(ratio) + `\linewidth]{` + IllustrationDir + `/` + q.IllustrationFilename + `}`,
		`\end{figure}`,
	}, nil
}

// 组名只使用字母数字，AMC 不接受其他字符
func groupName(s Subject) string {
	var b strings.Builder
	b.WriteString("g")
	for _, r := range s.ID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedSubjects(subjects []Subject) []Subject {
	out := make([]Subject, len(subjects))
	copy(out, subjects)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	for i := range out {
		qs := make([]Question, len(out[i].Questions))
		copy(qs, out[i].Questions)
		sort.SliceStable(qs, func(a, b int) bool { return qs[a].Number < qs[b].Number })
		out[i].Questions = qs
	}
	return out
}
