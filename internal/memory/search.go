package memory

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// BM25 parameters, standard Okapi values.
const (
	bm25K1 = 1.2
	bm25B  = 0.75

	// trigramWeight blends character-trigram similarity into the lexical
	// score so near-miss spellings and CJK phrases still match.
	trigramWeight = 0.6

	// trigramDocPrefix caps how much of a document feeds the trigram set.
	trigramDocPrefix = 2000
)

// Document is one searchable memory file.
type Document struct {
	Name    string
	Content string
}

// SearchResult is a ranked document with its combined score.
type SearchResult struct {
	Name    string
	Content string
	Score   float64
}

var asciiToken = regexp.MustCompile(`[a-z0-9_+-]{2,}`)

// SplitChunks breaks a markdown document into one Document per
// #-heading section. Content before the first heading becomes its own
// chunk. Chunk names are "<name>#<heading>" for traceability.
func SplitChunks(name, content string) []Document {
	lines := strings.Split(content, "\n")
	var chunks []Document
	var cur []string
	curName := name

	flush := func() {
		text := strings.TrimSpace(strings.Join(cur, "\n"))
		if text != "" {
			chunks = append(chunks, Document{Name: curName, Content: text})
		}
		cur = cur[:0]
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			flush()
			heading := strings.TrimSpace(strings.TrimLeft(line, "# "))
			curName = name + "#" + heading
		}
		cur = append(cur, line)
	}
	flush()
	return chunks
}

var stopwordsEN = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "is": true,
	"are": true, "was": true, "of": true, "to": true, "in": true, "on": true,
	"for": true, "with": true, "at": true, "by": true, "it": true, "this": true,
	"that": true, "be": true, "as": true, "from": true, "have": true, "has": true,
}

var stopwordsZH = map[string]bool{
	"的": true, "了": true, "是": true, "我": true, "你": true, "在": true,
	"和": true, "有": true, "就": true, "不": true, "也": true, "都": true,
	"这": true, "那": true, "他": true, "她": true, "它": true,
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0xF900 && r <= 0xFAFF)
}

// tokenize lowercases the text and yields ASCII word tokens plus CJK
// bigrams (single CJK runes when isolated), filtering stopwords.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string

	for _, m := range asciiToken.FindAllString(text, -1) {
		if !stopwordsEN[m] {
			tokens = append(tokens, m)
		}
	}

	var run []rune
	flush := func() {
		if len(run) == 0 {
			return
		}
		if len(run) == 1 {
			if !stopwordsZH[string(run[0])] {
				tokens = append(tokens, string(run[0]))
			}
		} else {
			for i := 0; i+1 < len(run); i++ {
				bigram := string(run[i : i+2])
				if stopwordsZH[string(run[i])] && stopwordsZH[string(run[i+1])] {
					continue
				}
				tokens = append(tokens, bigram)
			}
		}
		run = run[:0]
	}
	for _, r := range text {
		if isCJK(r) {
			run = append(run, r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// uniqueTokens keeps the first occurrence of each token so a repeated
// query word does not multiply its scoring contribution.
func uniqueTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// trigrams returns the set of character trigrams of the lowercased text.
func trigrams(text string) map[string]bool {
	runes := []rune(strings.ToLower(text))
	set := make(map[string]bool)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if large[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Rank scores every document against the query with BM25 over tokens
// plus a trigram-jaccard bonus, returning the top-k with positive scores.
func Rank(query string, docs []Document, k int) []SearchResult {
	queryTokens := uniqueTokens(tokenize(query))
	if len(queryTokens) == 0 && strings.TrimSpace(query) == "" {
		return nil
	}

	docTokens := make([][]string, len(docs))
	totalLen := 0
	for i, d := range docs {
		docTokens[i] = tokenize(d.Content)
		totalLen += len(docTokens[i])
	}
	avgLen := 1.0
	if len(docs) > 0 && totalLen > 0 {
		avgLen = float64(totalLen) / float64(len(docs))
	}

	// Document frequency per query token.
	df := make(map[string]int, len(queryTokens))
	for i := range docs {
		seen := make(map[string]bool)
		for _, t := range docTokens[i] {
			seen[t] = true
		}
		for _, qt := range queryTokens {
			if seen[qt] {
				df[qt]++
			}
		}
	}

	qTrigrams := trigrams(query)
	n := float64(len(docs))

	results := make([]SearchResult, 0, len(docs))
	for i, d := range docs {
		tf := make(map[string]int)
		for _, t := range docTokens[i] {
			tf[t]++
		}
		docLen := float64(len(docTokens[i]))

		score := 0.0
		for _, qt := range queryTokens {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[qt])+0.5)/(float64(df[qt])+0.5))
			norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
			score += idf * norm
		}

		prefix := d.Content
		if len(prefix) > trigramDocPrefix {
			prefix = prefix[:trigramDocPrefix]
		}
		score += trigramWeight * jaccard(qTrigrams, trigrams(prefix))

		if score > 0 {
			results = append(results, SearchResult{Name: d.Name, Content: d.Content, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
