package source

import (
	"context"
	"time"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
)

const fixtureSender = "contractor@example.com"

type fixtureMail struct {
	subject  string
	body     string
	received time.Time
}

var fixtureMails = []fixtureMail{
	{
		subject:  "Заявка 101: подрядчик выехал",
		body:     "Заявка №101. Позиция 12. Подрядчик в пути, ожидаем прибытие через 30 минут.",
		received: time.Date(2025, 9, 27, 10, 15, 0, 0, time.UTC),
	},
	{
		subject:  "REQ-101 подрядчик на месте",
		body:     "Подрядчик прибыл на позицию 12. Проверка оборудования.",
		received: time.Date(2025, 9, 27, 11, 5, 0, 0, time.UTC),
	},
	{
		subject:  "REQ-102 завершено",
		body:     "Позиция 8. Работы выполнены, подрядчик убыл.",
		received: time.Date(2025, 9, 27, 12, 40, 0, 0, time.UTC),
	},
}

// FixtureSource returns a fixed set of sample contractor messages. Filters
// are ignored.
type FixtureSource struct{}

func NewFixtureSource() FixtureSource { return FixtureSource{} }

func (FixtureSource) Name() string { return config.BackendFixture }

func (FixtureSource) Fetch(ctx context.Context, _ FilterSettings) ([]model.ContractorMessage, error) {
	messages := make([]model.ContractorMessage, 0, len(fixtureMails))
	for _, m := range fixtureMails {
		messages = append(messages, newMessage(m.subject, m.body, fixtureSender, m.received))
	}
	return messages, nil
}
