package generator

import (
	"fmt"
	"strings"

	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

const mainSystemPrompt = `あなたは、キャラクターの口調や話し方を分析し、高品質で実用的なロールプレイ用プロンプトを作成する専門家です。

以下の例のような詳細で構造化されたプロンプトを生成してください：

【理想的なプロンプト構造】
1. **キャラクターの役割**: 明確で具体的な設定（年齢、立場、基本性格）
2. **言語的特徴**: 一人称、語尾、特徴的表現を具体的に指定
3. **話し方の詳細**: 口調、敬語の使用有無、特徴的なパターン
4. **対人関係**: 相手との関係性、呼び方、接し方
5. **性格・行動原理**: 根底にある価値観、思考パターン
6. **具体的な表現例**: 実際の使用例を豊富に提示
7. **キャラクターガイドライン**: 一貫性を保つための詳細な指示
8. **禁止事項**: そのキャラクターらしくない表現の明確な指示

【出力要件】
- 会話形式で即座に使用できる完成されたプロンプト
- 具体的な表現例を10個以上含める
- 一貫性を保つための詳細な指示を含める
- 相手役の設定も明確に定義する
- ロールプレイが崩れないための注意事項を明記

収集した情報を詳細に分析し、そのキャラクターの本質を捉えたプロンプトを作成してください。`

const policySafeSystemPrompt = `あなたはロールプレイ用プロンプトの編集者です。
与えられたプロンプトから、暴力・差別・性的表現・実在人物への誹謗中傷など、一般的なコンテンツポリシーに抵触しうる記述を取り除き、穏当な表現に言い換えてください。
キャラクターの一人称、語尾、口調、性格の特徴はできる限り維持してください。
出力は書き換え後のプロンプト本文のみとし、説明や前置きは付けないでください。`

const introductionSystemPrompt = `あなたは与えられたロールプレイ用プロンプトのキャラクター本人です。
プロンプトに記述された一人称、語尾、口調を忠実に使い、200文字程度で自己紹介をしてください。
出力は自己紹介の本文のみとしてください。`

// buildMainUserPrompt embeds the organized data in the generation request
func buildMainUserPrompt(org OrganizedInfo, opts Options) string {
	name := org.Name
	lines := []string{
		fmt.Sprintf("「%s」の口調・話し方を完全に再現するChatGPT用プロンプトを作成してください。", name),
		"",
		"【分析対象情報】",
	}

	if org.WikipediaFound {
		lines = append(lines,
			fmt.Sprintf("■ %sの基本情報（Wikipedia）", name),
			textproc.Truncate(org.WikipediaSummary, opts.WikipediaSummaryLimit)+"...",
			"",
		)
	}

	if len(org.KeyInformation) > 0 {
		lines = append(lines, "■ 追加の基本情報")
		for _, info := range limit(org.KeyInformation, opts.MaxKeyInformation) {
			lines = append(lines, "- "+info)
		}
		lines = append(lines, "")
	}

	if len(org.WebSpeechPatterns) > 0 {
		lines = append(lines,
			fmt.Sprintf("■ %sの口調・語尾情報（Web検索より）", name),
			"以下はWebページから抽出された話し方の特徴です：",
		)
		lines = appendNonBlank(lines, org.WebSpeechPatterns, "- %s")
		lines = append(lines, "")
	}

	if len(org.VideoSpeechLines) > 0 {
		lines = append(lines, fmt.Sprintf("■ %sの話し方の分析（動画字幕より）", name))
		lines = appendNonBlank(lines, org.VideoSpeechLines, "- %s")
		lines = append(lines, "")
	}

	if org.YouTubeFound && len(org.SamplePhrases) > 0 {
		lines = append(lines,
			fmt.Sprintf("■ %sの実際の発言サンプル（YouTube動画より）", name),
			"以下は動画から抽出された実際の話し方です：",
		)
		lines = appendNonBlank(lines, limit(org.SamplePhrases, opts.MaxSamplePhrasesDisplay), "「%s」")
		lines = append(lines, "")
	}

	if len(org.QuoteSamples) > 0 {
		lines = append(lines, fmt.Sprintf("■ %sのセリフ例", name))
		lines = appendNonBlank(lines, org.QuoteSamples, "「%s」")
		lines = append(lines, "")
	}

	lines = append(lines,
		"【詳細分析要求】",
		fmt.Sprintf("上記の全ての情報を総合的に分析し、%sの完全なロールプレイ用プロンプトを作成してください。", name),
		"",
		"【必須要素】",
		"1. **【あなたの役割】**: キャラクターの詳細な設定（年齢、立場、基本性格）",
		"2. **言語的特徴**: 一人称、語尾（絵文字含む）、口調の詳細",
		"3. **話し方のパターン**: 敬語の使用、方言、特徴的な表現",
		"4. **対人関係**: 相手の呼び方、接し方、距離感",
		"5. **性格・価値観**: 思考パターン、行動原理、根底にある特徴",
		"6. **具体的表現例**: 特徴的な決まり文句を10個以上",
		"7. **【キャラクターガイドライン】**: 一貫性を保つための詳細指示",
		"8. **【私の役割】**: 相手役の設定も明確に定義",
		"9. **注意事項**: キャラクター崩れを防ぐための指示",
		"",
		"【分析観点】",
		fmt.Sprintf("- 収集データから%sの最も特徴的な語尾や表現パターンは何か？", name),
		fmt.Sprintf("- 実際のデータで%sが使用している一人称と相手の呼び方は？", name),
		fmt.Sprintf("- データから読み取れる%sの基本的な性格や対人関係は？", name),
		fmt.Sprintf("- 収集したデータに基づき、%sらしくない表現は何か？", name),
		"",
		"【重要な原則】",
		"- 収集されたデータを最優先に分析し、推測や一般論は避ける",
		"- 実際に抽出された語尾・一人称・表現を正確に反映させる",
		"- 特定の一人称や表現様式を排除せず、データに忠実に従う",
		"",
		"出力は「以下の情報をもとに、ロールプレイを行います」で始めてください。",
	)
	return strings.Join(lines, "\n")
}

// FallbackPrompt is the template used when the main LLM stage fails.
// It depends only on org and opts.
func FallbackPrompt(org OrganizedInfo, opts Options) string {
	name := org.Name
	lines := []string{
		"以下の情報をもとに、ロールプレイを行います。",
		"会話形式のやりとりで進行し、キャラクター性を保ちながら自由に発言してください。",
		"",
		"【あなたの役割】",
		fmt.Sprintf("・%sとして一貫したキャラクターを演じる", name),
		"・収集された情報に基づいて適切な口調・語尾・性格を再現する",
		"",
	}

	if org.WikipediaFound {
		lines = append(lines,
			"## 基本情報",
			textproc.Truncate(org.WikipediaSummary, opts.WikipediaFallbackLimit)+"...",
			"",
		)
	}

	if len(org.WebSpeechPatterns) > 0 {
		lines = append(lines,
			"## 口調・語尾特徴（Web検索より）",
			"以下の特徴を参考にしてください：",
		)
		lines = appendNonBlank(lines, limit(org.WebSpeechPatterns, opts.FallbackItems), "- %s")
		lines = append(lines, "")
	}

	if org.YouTubeFound && len(org.SamplePhrases) > 0 {
		lines = append(lines,
			"## 実際の発言例（YouTube動画より）",
			"以下の話し方を参考にしてください：",
		)
		lines = appendNonBlank(lines, limit(org.SamplePhrases, opts.FallbackItems), "- 「%s」")
		lines = append(lines, "")
	}

	lines = append(lines, guidelineLines(name)...)

	if sources := org.Sources(); len(sources) > 0 {
		lines = append(lines, fmt.Sprintf("※ %sから収集した情報を基に作成されています。", strings.Join(sources, ", ")))
	}
	lines = append(lines, "※ ChatGPT APIが利用できないため、基本的なプロンプト形式で提供しています。")
	return strings.Join(lines, "\n")
}

// FallbackPolicySafe is the template used when the policy-safe stage fails
func FallbackPolicySafe(org OrganizedInfo, opts Options) string {
	name := org.Name
	lines := []string{
		"以下の情報をもとに、ロールプレイを行います。",
		"会話形式のやりとりで進行し、節度ある表現でキャラクター性を保ってください。",
		"",
		"【あなたの役割】",
		fmt.Sprintf("・%sとして一貫したキャラクターを演じる", name),
		"",
	}

	if len(org.WebSpeechPatterns) > 0 {
		lines = append(lines, "## 口調・語尾特徴")
		lines = appendNonBlank(lines, limit(org.WebSpeechPatterns, opts.FallbackItems), "- %s")
		lines = append(lines, "")
	}

	lines = append(lines,
		"【コンテンツポリシーに関する指示】",
		"・暴力的、差別的、性的な表現は使用しない",
		"・実在の人物や団体を誹謗中傷しない",
		"・危険な行為を推奨しない",
		"・過激な表現は穏当な言い回しに置き換え、口調と語尾は維持する",
		"",
		"【注意事項】",
		fmt.Sprintf("・%sらしくない表現や態度は避ける", name),
		"・話題が変わってもキャラクター性を維持する",
	)
	return strings.Join(lines, "\n")
}

// FallbackIntroduction is the self-introduction used when the LLM stage fails
func FallbackIntroduction(org OrganizedInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "はじめまして、%sです。", org.Name)
	if org.YouTubeFound {
		for _, p := range org.SamplePhrases {
			if p = strings.TrimSpace(p); p != "" {
				fmt.Fprintf(&b, "「%s」", p)
				break
			}
		}
	}
	b.WriteString("よろしくお願いします。")
	return b.String()
}

func guidelineLines(name string) []string {
	return []string{
		"【キャラクターガイドライン】",
		fmt.Sprintf("・%sの特徴的な一人称・語尾・口調を一貫して使用する", name),
		fmt.Sprintf("・%sらしい性格や価値観を常に保つ", name),
		"・どんな話題でもキャラクター性を崩さない",
		"・相手との関係性に応じた適切な距離感を保つ",
		"",
		"【話し方の詳細指示】",
		fmt.Sprintf("1. **一人称**: 収集データから%sの一人称を特定し一貫使用", name),
		fmt.Sprintf("2. **語尾・口調**: %s特有の語尾や表現パターンを活用", name),
		fmt.Sprintf("3. **敬語使用**: %sの敬語使用パターンに従う", name),
		fmt.Sprintf("4. **特徴的表現**: %sらしい決まり文句や表現を適切に使用", name),
		fmt.Sprintf("5. **性格反映**: %sの基本的な性格や価値観を発言に反映", name),
		"",
		"【注意事項】",
		fmt.Sprintf("・%sらしくない表現や態度は避ける", name),
		"・話題が変わってもキャラクター性を維持する",
		"・収集された情報と矛盾する設定は使用しない",
		"",
	}
}

func appendNonBlank(lines, items []string, format string) []string {
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			lines = append(lines, fmt.Sprintf(format, item))
		}
	}
	return lines
}

func limit(items []string, n int) []string {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
