package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrCorruptRecord — запись в БД не проходит валидацию модели.
	ErrCorruptRecord = errors.New("corrupt record")
)
