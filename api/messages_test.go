package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestSummaryText(t *testing.T) {
	assert.Equal(t, "Verification passed in 0.85s", summaryText(newPrinter(language.English), 850))
	assert.Equal(t, "验证通过，用时 1.20 秒", summaryText(newPrinter(language.SimplifiedChinese), 1200))
}

func TestRequestPrinterNegotiatesLanguage(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"", msgNotAligned},
		{"en-GB,en;q=0.8", msgNotAligned},
		{"zh-CN,zh;q=0.9,en;q=0.5", "拼图未对齐，请重试"},
		{"zh-Hans", "拼图未对齐，请重试"},
		{"fr-FR", msgNotAligned},
		{";;;garbage", msgNotAligned},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", nil)
			if tt.accept != "" {
				r.Header.Set("Accept-Language", tt.accept)
			}
			assert.Equal(t, tt.want, requestPrinter(r).Sprintf(msgNotAligned))
		})
	}
}
