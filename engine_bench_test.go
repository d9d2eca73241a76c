package stayAuth

import (
	"context"
	"testing"
)

func BenchmarkAuthenticateBearer(b *testing.B) {
	for _, mode := range []ValidationMode{ModeJWTOnly, ModeHybrid, ModeStrict} {
		b.Run(mode.String(), func(b *testing.B) {
			f := newFixture(b, func(c *Config) { c.ValidationMode = mode })
			res := f.login(b, testDevice)
			req := Request{BearerToken: res.Tokens.AccessToken}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := f.engine.Authenticate(context.Background(), req); err != nil {
					b.Fatalf("authenticate failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkAuthenticateSessionID(b *testing.B) {
	f := newFixture(b, nil)
	res := f.login(b, testDevice)
	req := Request{SessionID: res.Tokens.SessionID, IP: testDevice.IP, UserAgent: testDevice.UserAgent}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.Authenticate(context.Background(), req); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	f := newFixture(b, nil)
	pair := f.login(b, testDevice).Tokens

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := f.engine.Refresh(context.Background(), pair.RefreshToken, pair.CSRFToken)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		pair = next
	}
}

func BenchmarkAuthorize(b *testing.B) {
	f := newFixture(b, nil)
	id := &Identity{UserID: "u-1", Role: "front_desk", TenantID: "hotel-a"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if !f.engine.Authorize(id, f.perms[0], "hotel-a") {
			b.Fatal("authorize denied")
		}
	}
}

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricAuthenticateSuccess)
		}
	})
}
