package emailsvc_test

import (
	"fmt"
	"net/mail"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kymaka/elimu/core"
	emailsvc "github.com/kymaka/elimu/services/email"
)

func TestConsoleServiceRecordsSentMessages(t *testing.T) {
	emailsvc.ClearSentMessages()
	svc := emailsvc.NewConsoleServiceMock(&core.Config{AppName: "Elimu"})

	for i := 0; i < 5; i++ {
		svc.SendMessages(&core.EmailMessage{
			To:          []mail.Address{{Address: "jane@school.test"}},
			Subject:     fmt.Sprintf("Message %d", i),
			TextContent: "hello",
		})
	}

	// sends run on their own goroutines; poll the snapshot until all land
	require.Eventually(t, func() bool {
		return len(emailsvc.SentMessages()) == 5
	}, 2*time.Second, 10*time.Millisecond)

	subjects := make(map[string]bool)
	for _, msg := range emailsvc.SentMessages() {
		subjects[msg.Subject] = true
	}
	assert.Len(t, subjects, 5)

	emailsvc.ClearSentMessages()
	assert.Empty(t, emailsvc.SentMessages())
}

func TestConsoleServiceSkipsEmptyMessages(t *testing.T) {
	emailsvc.ClearSentMessages()
	svc := emailsvc.NewConsoleServiceMock(&core.Config{AppName: "Elimu"})

	svc.SendMessages(
		&core.EmailMessage{Subject: "No recipients", TextContent: "hello"},
		&core.EmailMessage{To: []mail.Address{{Address: "jane@school.test"}}, Subject: "No content"},
		&core.EmailMessage{To: []mail.Address{{Address: "jane@school.test"}}, Subject: "Kept", TextContent: "hello"},
	)

	require.Eventually(t, func() bool {
		return len(emailsvc.SentMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Kept", emailsvc.SentMessages()[0].Subject)
}
