package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/pingone-bulk-users/internal/config"
	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/pingone-bulk-users/internal/service"
	"github.com/pingone-bulk-users/internal/validation"
	"github.com/rs/zerolog"
)

func usersCSV(n int) []byte {
	var buf bytes.Buffer
	buf.WriteString("username,email,givenName,familyName,populationId,department\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "user%06d,user%06d@test.com,Test,User %d,,Sales\n", i, i, i)
	}
	return buf.Bytes()
}

// BenchmarkCSVParsing benchmarks parsing and validating an import file
func BenchmarkCSVParsing(b *testing.B) {
	data := usersCSV(1000)

	b.ResetTimer()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))

	for i := 0; i < b.N; i++ {
		parsed, err := validation.ParseUsersCSV(bytes.NewReader(data), models.OperationImport)
		if err != nil {
			b.Fatal(err)
		}
		if len(parsed.Records) != 1000 {
			b.Fatalf("expected 1000 records, got %d", len(parsed.Records))
		}
	}

	b.ReportMetric(float64(1000*b.N)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkValidation benchmarks single record validation
func BenchmarkValidation(b *testing.B) {
	validator := validation.NewValidator(models.OperationImport)
	rec := &models.UserRecord{
		Index:        0,
		Line:         2,
		Username:     "jdoe",
		Email:        "jdoe@example.com",
		GivenName:    "John",
		FamilyName:   "Doe",
		PopulationID: "550e8400-e29b-41d4-a716-446655440000",
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		validator.ValidateRecord(rec)
	}
}

// BenchmarkQueueRun benchmarks admission through a bounded queue
func BenchmarkQueueRun(b *testing.B) {
	q := queue.New("bench", config.QueueLimits{MaxConcurrent: 32, MaxPending: 1000}, zerolog.Nop())
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = queue.Run(ctx, q, queue.PriorityNormal, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, nil
		})
	}
}

// BenchmarkQueueParallel benchmarks contended admission
func BenchmarkQueueParallel(b *testing.B) {
	q := queue.New("bench", config.QueueLimits{MaxConcurrent: 32, MaxPending: 100000}, zerolog.Nop())
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = queue.Run(ctx, q, queue.PriorityNormal, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, nil
			})
		}
	})
}

// BenchmarkWriteCSV benchmarks rendering an export as CSV
func BenchmarkWriteCSV(b *testing.B) {
	result := &models.ExportResult{
		Columns: []string{"id", "username", "email", "givenName", "familyName"},
		Users:   make([]map[string]string, 1000),
	}
	for i := range result.Users {
		result.Users[i] = map[string]string{
			"id":         fmt.Sprintf("550e8400-e29b-41d4-a716-%012d", i),
			"username":   fmt.Sprintf("user%06d", i),
			"email":      fmt.Sprintf("user%06d@test.com", i),
			"givenName":  "Test",
			"familyName": "User",
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := service.WriteCSV(io.Discard, result); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(1000*b.N)/b.Elapsed().Seconds(), "rows/sec")
}
