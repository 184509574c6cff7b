package util

import (
	"errors"
	"testing"
)

func TestCheckRecordingViability(t *testing.T) {
	const minBytes, maxBytes = 1024, 1 << 20

	cases := []struct {
		name     string
		declared int64
		payload  int64
		want     error
	}{
		{"payload alone passes", 0, 2048, nil},
		{"both below minimum", 100, 200, ErrRecordingTooSmall},
		// 编码延迟场景：载荷偏小，但客户端声明的原始字节数达标
		{"declared rescues small payload", 4096, 200, nil},
		{"declared small but payload passes", 10, 2048, nil},
		{"payload over maximum", 0, 2 << 20, ErrRecordingTooLarge},
		{"exactly minimum", 0, minBytes, nil},
		{"exactly maximum", 0, maxBytes, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckRecordingViability(c.declared, c.payload, minBytes, maxBytes)
			if !errors.Is(err, c.want) {
				t.Fatalf("declared=%d payload=%d: got %v, want %v", c.declared, c.payload, err, c.want)
			}
		})
	}
}

func TestCheckRecordingViability_DeclaredCannotBypassMax(t *testing.T) {
	// 上限按实际载荷判定，声明值再大也拦不住超大文件
	err := CheckRecordingViability(10, 2<<20, 1024, 1<<20)
	if !errors.Is(err, ErrRecordingTooLarge) {
		t.Fatalf("got %v, want ErrRecordingTooLarge", err)
	}
}
