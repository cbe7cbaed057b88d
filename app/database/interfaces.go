package database

import (
	"time"

	"github.com/avolokh/newsriver/app/article"
)

// DeadLetterStore is what the dead-letter consumer and the API need from the
// repository.
type DeadLetterStore interface {
	Insert(dl *article.DeadLetter) error
	List(stage string, limit, offset int) ([]DeadLetterRecord, error)
	Get(id int64) (*DeadLetterRecord, error)
	CountByStage() ([]StageCount, error)
	Purge(before time.Time) (int64, error)
}
