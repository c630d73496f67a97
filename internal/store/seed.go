package store

import "massmail/internal/models"

const summaryTable = `<table>
<tr><td>Job ID</td><td>___JOB_ID___</td></tr>
<tr><td>Status</td><td>___JOB_STATUS___</td></tr>
<tr><td>Total Count</td><td>___JOB_TOTAL_COUNT___</td></tr>
<tr><td>Executed Count</td><td>___JOB_EXECUTED_COUNT___</td></tr>
<tr><td>Sent Count</td><td>___JOB_SENT_COUNT___</td></tr>
<tr><td>Not Sent Count</td><td>___JOB_NOT_SENT_COUNT___</td></tr>
<tr><td>Canceled Count</td><td>___JOB_CANCELED_COUNT___</td></tr>
<tr><td>Percent Completed</td><td>___JOB_PERCENT_COMPLETED___</td></tr>
<tr><td>Time Spent</td><td>___JOB_TIME_SPENT___</td></tr>
<tr><td>Started At</td><td>___JOB_STARTED_AT___</td></tr>
<tr><td>Ended At</td><td>___JOB_ENDED_AT___</td></tr>
<tr><td>Number of Retry</td><td>___JOB_RETRY_NUMBER___</td></tr>
</table>`

func notificationBody(event string) string {
	return `<p>Dear Concern,</p>
<p>Your mass mail job has been ` + event + `. Click on the link below to see the updated sent log:</p>
<p><a href="___JOB_DETAILS_URL___">View Job Details</a></p>
<p>Job summary:</p>
` + summaryTable + `
<p>*** This is an automatically generated email, please do not reply ***</p>`
}

// defaultTemplates are seeded once at schema bootstrap; operators edit
// them in place afterwards.
var defaultTemplates = []models.Template{
	{
		Code:        models.TemplateJobStarted,
		Description: "Sent when a mass mail job starts",
		From:        "noreply@massmail.local",
		Subject:     "Mass Mail Job Started",
		Body:        notificationBody("Started"),
	},
	{
		Code:        models.TemplateJobCompleted,
		Description: "Sent when a mass mail job completes",
		From:        "noreply@massmail.local",
		Subject:     "Mass Mail Job Completed",
		Body:        notificationBody("Completed"),
	},
	{
		Code:        models.TemplateJobCanceled,
		Description: "Sent when a mass mail job is canceled",
		From:        "noreply@massmail.local",
		Subject:     "Mass Mail Job Canceled",
		Body:        notificationBody("Canceled"),
	},
}
