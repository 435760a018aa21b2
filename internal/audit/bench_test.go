package audit

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

func BenchmarkStoreAppend(b *testing.B) {
	for _, backend := range []string{BackendJSONL, BackendSQLite} {
		b.Run(backend, func(b *testing.B) {
			s, err := Open(context.Background(), b.TempDir(), backend)
			if err != nil {
				b.Fatal(err)
			}
			defer s.Close()

			rec := draftRecord("bench", model.TierLow, model.DecisionProceed)
			for b.Loop() {
				if _, err := s.Append(context.Background(), rec); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkVerify(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		b.Run(fmt.Sprintf("records=%d", n), func(b *testing.B) {
			path := LedgerPath(b.TempDir(), BackendJSONL)
			l, err := OpenLog(path)
			if err != nil {
				b.Fatal(err)
			}
			for i := 0; i < n; i++ {
				record(b, l, testRecord(model.DecisionProceed))
			}
			l.Close()
			info, err := os.Stat(path)
			if err != nil {
				b.Fatal(err)
			}
			b.SetBytes(info.Size())

			for b.Loop() {
				if result := Verify(path); !result.Valid {
					b.Fatal("invalid chain:", result.Error)
				}
			}
		})
	}
}
