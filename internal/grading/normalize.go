package grading

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Comparable 归一化后的可比较答案
type Comparable struct {
	Answered bool
	Text     string
	Set      []string    // 多选题选中的选项
	Pairs    []MatchPair // 连线题
}

// Unanswered 未作答哨兵值，与空字符串作答区分
var Unanswered = Comparable{}

const quoteRunes = "\"'`“”‘’"

// 首尾的空白（含 NBSP 等 Unicode 空白）与引号一起去掉
func isTrimRune(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(quoteRunes, r)
}

// NormalizeText 统一的文本归一化：去转义引号、小写、去首尾空白与引号、折叠内部空白
func NormalizeText(s string) string {
	for strings.Contains(s, `\"`) {
		s = strings.ReplaceAll(s, `\"`, `"`)
	}
	s = strings.ToLower(s)
	s = strings.TrimFunc(s, isTrimRune)
	return strings.Join(strings.Fields(s), " ")
}

// Normalize 按题型把原始答案转为可比较形式。
// value 可以是 JSON 原始字节、解码后的值或已归一化的 Comparable。
func Normalize(t QuestionType, value interface{}) Comparable {
	switch v := value.(type) {
	case nil:
		return Unanswered
	case Comparable:
		return renormalize(t, v)
	case *Comparable:
		if v == nil {
			return Unanswered
		}
		return renormalize(t, *v)
	case json.RawMessage:
		return Normalize(t, decodeRaw(v))
	case []byte:
		return Normalize(t, decodeRaw(v))
	}

	if t == Matching {
		return normalizeMatching(value)
	}

	switch v := value.(type) {
	case []interface{}:
		if len(v) == 0 {
			return Unanswered
		}
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, scalarText(item))
		}
		return normalizeList(t, items)
	case []string:
		if len(v) == 0 {
			return Unanswered
		}
		return normalizeList(t, v)
	}

	text := NormalizeText(scalarText(value))
	if t == TrueFalse {
		text = canonicalBool(text)
	}
	return Comparable{Answered: true, Text: text}
}

func renormalize(t QuestionType, c Comparable) Comparable {
	if !c.Answered {
		return Unanswered
	}
	if t == Matching {
		pairs := make([]MatchPair, len(c.Pairs))
		copy(pairs, c.Pairs)
		return Comparable{Answered: true, Pairs: pairs}
	}
	if c.Set != nil {
		return normalizeList(t, c.Set)
	}
	text := NormalizeText(c.Text)
	if t == TrueFalse {
		text = canonicalBool(text)
	}
	return Comparable{Answered: true, Text: text}
}

func normalizeList(t QuestionType, items []string) Comparable {
	if t == MultipleChoice {
		seen := make(map[string]bool, len(items))
		set := make([]string, 0, len(items))
		for _, item := range items {
			n := NormalizeText(item)
			if !seen[n] {
				seen[n] = true
				set = append(set, n)
			}
		}
		sort.Strings(set)
		return Comparable{Answered: true, Set: set}
	}
	// 其他文本题型把数组拼接成一段文本
	text := NormalizeText(strings.Join(items, " "))
	if t == TrueFalse {
		text = canonicalBool(text)
	}
	return Comparable{Answered: true, Text: text}
}

func normalizeMatching(value interface{}) Comparable {
	var pairs []MatchPair
	switch v := value.(type) {
	case []MatchPair:
		pairs = append(pairs, v...)
	case MatchingPairs:
		pairs = append(pairs, v...)
	case []interface{}:
		for _, item := range v {
			switch p := item.(type) {
			case map[string]interface{}:
				pairs = append(pairs, MatchPair{Left: scalarText(p["left"]), Right: scalarText(p["right"])})
			default:
				pairs = append(pairs, MatchPair{Right: scalarText(p)})
			}
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			pairs = append(pairs, MatchPair{Left: k, Right: scalarText(v[k])})
		}
	default:
		pairs = append(pairs, MatchPair{Right: scalarText(v)})
	}
	if len(pairs) == 0 {
		return Unanswered
	}
	return Comparable{Answered: true, Pairs: pairs}
}

func decodeRaw(raw []byte) interface{} {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		// 非法 JSON 按原文字符串处理
		return string(raw)
	}
	return v
}

func scalarText(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func canonicalBool(s string) string {
	switch s {
	case "true", "t", "yes", "y", "1":
		return "true"
	case "false", "f", "no", "n", "0":
		return "false"
	}
	return s
}
