package i18n

import "testing"

func TestTranslate(t *testing.T) {
	if err := Init("zh-CN"); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	if got := TWithLang("en-US", "error.position_not_found", map[string]interface{}{"Symbol": "BTC"}); got != "Position not found: BTC" {
		t.Errorf("英文翻译不符: %q", got)
	}
	if got := T("error.missing_token", nil); got != "缺少 token 参数" {
		t.Errorf("默认中文翻译不符: %q", got)
	}
	if got := T("error.no_such_key", nil); got != "error.no_such_key" {
		t.Errorf("未知 key 应原样返回, 实际 %q", got)
	}
}

func TestMatchLanguage(t *testing.T) {
	SetSystemLanguage("zh-CN")
	tests := map[string]string{
		"en-US,en;q=0.9": "en-US",
		"en":             "en-US",
		"zh-TW,zh;q=0.8": "zh-CN",
		"":               "zh-CN",
		"fr-FR":          "zh-CN",
	}
	for header, want := range tests {
		if got := MatchLanguage(header); got != want {
			t.Errorf("%q: 期望 %s, 实际 %s", header, want, got)
		}
	}
}
