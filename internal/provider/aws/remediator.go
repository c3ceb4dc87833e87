package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

// Remediator applies retention actions to log groups. PutRetentionPolicy
// overwrites the current setting, so repeated calls converge.
type Remediator struct {
	cwLogsClient CloudWatchLogsAPI
}

// NewRemediator creates a remediator over client.
func NewRemediator(client CloudWatchLogsAPI) *Remediator {
	return &Remediator{cwLogsClient: client}
}

// Apply executes action against the log group named resourceID.
func (r *Remediator) Apply(ctx context.Context, action compliance.Action, resourceID string) error {
	switch action.Kind {
	case compliance.ActionApplyRetention:
		if action.Days <= 0 {
			return fmt.Errorf("invalid retention %d days", action.Days)
		}
		_, err := r.cwLogsClient.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
			LogGroupName:    aws.String(resourceID),
			RetentionInDays: aws.Int32(int32(action.Days)),
		})
		if err != nil {
			return classify(err, resource.KindLogGroup, resourceID, "put retention policy")
		}

		log.Debug().
			Str("log_group", resourceID).
			Int("days", action.Days).
			Msg("retention policy set")
		return nil
	default:
		return fmt.Errorf("unsupported action %s", action)
	}
}
