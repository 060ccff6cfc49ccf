package ethdev

import (
	"errors"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"multi rx rings", Config{RxRings: 2, TxRings: 1, RxDescriptors: 128, TxDescriptors: 512}, true},
		{"multi tx rings", Config{RxRings: 1, TxRings: 4, RxDescriptors: 128, TxDescriptors: 512}, true},
		{"zero descriptors", Config{RxRings: 1, TxRings: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr && !errors.Is(err, ErrUnsupportedConfig) {
				t.Errorf("err = %v, want ErrUnsupportedConfig", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestDefaultConfigDescriptors(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RxDescriptors != 128 || cfg.TxDescriptors != 512 {
		t.Errorf("descriptors = (%d, %d), want (128, 512)", cfg.RxDescriptors, cfg.TxDescriptors)
	}
}
