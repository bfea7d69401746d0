package tokenizer

import "strings"

// WordCounter 把空白分隔的单词数当作 token 数.
// 这是对真实分词的近似，也是历史预算的默认口径。
type WordCounter struct{}

func (WordCounter) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func (WordCounter) Name() string {
	return "words"
}

// FirstWords 返回 text 的前 n 个空白分隔单词，以单个空格连接.
func FirstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
