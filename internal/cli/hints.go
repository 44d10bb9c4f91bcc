package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

// Hints returns remediation lines for err. name is used in the example
// command line.
func Hints(err error, name string) []string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var apiErr *domain.APIError

	switch {
	case errors.Is(err, domain.ErrMissingAPIKey):
		return []string{"--api-key オプションまたは環境変数 OPENAI_API_KEY を設定してください。"}
	case errors.Is(err, domain.ErrConflictingBackends):
		return []string{"💡 検索エンジンオプションはいずれか1つだけ指定してください。"}
	case errors.Is(err, domain.ErrRateLimited), strings.Contains(msg, "429"), strings.Contains(msg, "Too Many Requests"):
		return []string{
			"",
			"💡 Web検索でレート制限エラーが発生しました。以下をお試しください:",
			"   1. Bing検索に切り替え: --use-bing フラグを追加",
			"   2. Web検索を無効化: --no-search フラグを追加",
			"   3. 時間を置いて再実行（1-2時間後）",
			fmt.Sprintf("   例: cpa %q --use-bing --api-key \"your-key\"", name),
		}
	case errors.As(err, &apiErr), strings.Contains(msg, "OpenAI"), strings.Contains(msg, "API"):
		return []string{
			"",
			"💡 OpenAI API関連のエラーです:",
			"   - API Keyが正しいか確認してください",
			"   - API利用制限を確認してください",
		}
	}
	return nil
}
