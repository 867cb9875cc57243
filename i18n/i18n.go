package i18n

import (
	"embed"
	"fmt"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// SupportedLanguages 内置翻译的语言
var SupportedLanguages = []string{"zh-CN", "en-US"}

const defaultLang = "zh-CN"

var (
	bundle         *i18n.Bundle
	mu             sync.RWMutex
	systemLanguage = defaultLang
)

// Init 加载内置翻译，lang 为空时默认中文
func Init(lang string) error {
	b := i18n.NewBundle(language.Chinese)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)
	for _, l := range SupportedLanguages {
		filename := fmt.Sprintf("locales/%s.yaml", l)
		if _, err := b.LoadMessageFileFS(localeFS, filename); err != nil {
			return fmt.Errorf("加载翻译文件 %s 失败: %w", filename, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	bundle = b
	if lang != "" {
		systemLanguage = lang
	}
	return nil
}

// GetLocalizer 按优先级创建 Localizer，langs 可以是 Accept-Language 原始值
func GetLocalizer(langs ...string) *i18n.Localizer {
	mu.RLock()
	defer mu.RUnlock()
	if bundle == nil {
		return nil
	}
	return i18n.NewLocalizer(bundle, append(langs, systemLanguage)...)
}

// T 使用系统默认语言翻译
func T(key string, data map[string]interface{}) string {
	return TWithLang("", key, data)
}

// TWithLang 使用指定语言翻译，找不到翻译时返回 key
func TWithLang(lang string, key string, data map[string]interface{}) string {
	var localizer *i18n.Localizer
	if lang == "" {
		localizer = GetLocalizer()
	} else {
		localizer = GetLocalizer(lang)
	}
	if localizer == nil {
		return key
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		return key
	}
	return msg
}

// MatchLanguage 将 Accept-Language 匹配为支持的语言
func MatchLanguage(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return GetSystemLanguage()
	}
	supported := make([]language.Tag, len(SupportedLanguages))
	for i, l := range SupportedLanguages {
		supported[i] = language.MustParse(l)
	}
	_, idx, conf := language.NewMatcher(supported).Match(tags...)
	if conf == language.No {
		return GetSystemLanguage()
	}
	return SupportedLanguages[idx]
}

// SetSystemLanguage 设置系统默认语言
func SetSystemLanguage(lang string) {
	mu.Lock()
	defer mu.Unlock()
	systemLanguage = lang
}

// GetSystemLanguage 获取系统默认语言
func GetSystemLanguage() string {
	mu.RLock()
	defer mu.RUnlock()
	return systemLanguage
}
