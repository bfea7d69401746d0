package conversation

import (
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/llamachat/llm/tokenizer"
)

const (
	summaryMarker = "summary"
	// summaryMinChars 以下的回复里匹配到的标记不可信.
	summaryMinChars = 10
	// fallbackWords 是未找到摘要时保留的单词数.
	fallbackWords = 50
)

// PostProcess 把已去除首尾空白的生成文本转换为要存储的助手轮次内容.
//
// PolicyPlain：找到 "summary"（不区分大小写）时存储从标记到结尾的部分，否则存储全文。
// PolicyDirective：找到标记且全文不少于 10 个字符时存储从标记到结尾的部分；
// 其余情况（标记缺失，或全文过短）存储前 50 个单词。
func PostProcess(policy Policy, response string) string {
	idx := indexMarker(response)

	if policy == PolicyDirective {
		if idx == -1 || utf8.RuneCountInString(response) < summaryMinChars {
			return tokenizer.FirstWords(response, fallbackWords)
		}
		return strings.TrimSpace(response[idx:])
	}

	if idx == -1 {
		return response
	}
	return strings.TrimSpace(response[idx:])
}

// indexMarker 返回 summaryMarker 在 s 中第一次出现的字节位置（ASCII 大小写不敏感），未找到返回 -1.
// 标记全是 ASCII 字母，逐字节比较与先整体转小写再查找的结果一致，且索引可直接切片原串。
func indexMarker(s string) int {
	n := len(summaryMarker)
	for i := 0; i+n <= len(s); i++ {
		if equalFoldASCII(s[i:i+n], summaryMarker) {
			return i
		}
	}
	return -1
}

func equalFoldASCII(a, lower string) bool {
	for i := 0; i < len(lower); i++ {
		c := a[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}
