package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestCaseRepo — доступ к реестру test cases (только чтение).
// CRUD test cases живёт во внешнем сервисе, оркестратору нужна лишь проверка существования.
type TestCaseRepo struct {
	pool *pgxpool.Pool
}

// NewTestCaseRepo создаёт новый TestCaseRepo.
func NewTestCaseRepo(pool *pgxpool.Pool) *TestCaseRepo {
	return &TestCaseRepo{pool: pool}
}

// Exists проверяет, зарегистрирован ли test case.
func (r *TestCaseRepo) Exists(ctx context.Context, testCaseID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM test_cases WHERE id = $1)`, testCaseID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check test case: %w", err)
	}
	return exists, nil
}
