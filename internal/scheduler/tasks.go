package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOutboundMessageDue = "outbox.message.due"

type OutboundMessageDuePayload struct {
	MessageID  string `json:"messageId"`
	TrackingID string `json:"trackingId"`
}

func NewOutboundMessageDueTask(payload OutboundMessageDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboundMessageDue, data), nil
}

func ParseOutboundMessageDuePayload(task *asynq.Task) (OutboundMessageDuePayload, error) {
	var payload OutboundMessageDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboundMessageDuePayload{}, err
	}
	return payload, nil
}
