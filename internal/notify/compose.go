package notify

import (
	"fmt"
	"html"

	"github.com/joisarv/civic/internal/models"
)

const footer = `<hr style='border-color: #ddd;'>
<p style='font-size: 0.8em; color: #888; text-align: center;'>This is an automated message from the Civic Reporting System.</p>`

// DepartmentReport composes the email sent to a department when a new issue
// is routed to it.
func DepartmentReport(issue *models.Issue, dept *models.Department, image []byte, imageType string) Message {
	subject := fmt.Sprintf("[New Civic Report] Issue %s - Assigned to %s", issue.TrackingCode, dept.Name)

	location := issue.Address
	if location == "" {
		location = "Address not provided"
	}

	body := fmt.Sprintf(`<html><body style='font-family: Arial, sans-serif; line-height: 1.6; color: #333;'>
<h2 style='color: #008080;'>New Civic Issue Reported</h2>
<p>Hello <b>%s</b>,</p>
<p>A new civic issue has been submitted and automatically assigned to your department for review and action.</p>
<ul style='list-style-type: none; padding: 0;'>
<li><strong>Tracking Code:</strong> %s</li>
<li><strong>Assigned Department:</strong> %s</li>
<li><strong>Location:</strong> %s</li>
<li><strong>Date Reported:</strong> %s</li>
</ul>
<p><strong>Image of the issue:</strong></p>
<p style='text-align: center;'><img src="cid:issue_image" alt="Civic Issue Image" style="max-width: 100%%; height: auto;"></p>
<p>Please log into your portal to commit a remediation duration for this issue.</p>
%s</body></html>`,
		html.EscapeString(dept.Name),
		issue.TrackingCode,
		html.EscapeString(dept.Name),
		html.EscapeString(location),
		issue.CreatedAt.Format("2006-01-02"),
		footer,
	)

	return Message{
		To:          dept.Email,
		Subject:     subject,
		HTML:        body,
		InlineImage: image,
		ImageType:   imageType,
	}
}

// Reminder composes the overdue-update email sent to a department by the
// reminder scheduler. nextDay is the day number the department owes.
func Reminder(issue *models.Issue, dept *models.Department, nextDay int) Message {
	subject := fmt.Sprintf("[Reminder] Issue %s - Day %d update overdue", issue.TrackingCode, nextDay)

	body := fmt.Sprintf(`<html><body style='font-family: Arial, sans-serif; line-height: 1.6; color: #333;'>
<h2 style='color: #b8860b;'>Progress Update Overdue</h2>
<p>Hello <b>%s</b>,</p>
<p>Issue <strong>%s</strong> at <strong>%s</strong> is awaiting its <strong>Day %d</strong> progress update (day %d of %d). The last update was recorded on %s.</p>
<p>Please post the update through your portal so the reporter stays informed.</p>
%s</body></html>`,
		html.EscapeString(dept.Name),
		issue.TrackingCode,
		html.EscapeString(issue.Address),
		nextDay, nextDay, issue.TotalDays,
		issue.UpdatedAt.Format("2006-01-02"),
		footer,
	)

	return Message{To: dept.Email, Subject: subject, HTML: body}
}

// ExtensionApology composes the email sent to the reporter when a department
// extends the remediation deadline.
func ExtensionApology(issue *models.Issue, extraDays int) Message {
	subject := fmt.Sprintf("[Civic Report %s] Resolution timeline extended", issue.TrackingCode)

	body := fmt.Sprintf(`<html><body style='font-family: Arial, sans-serif; line-height: 1.6; color: #333;'>
<h2 style='color: #008080;'>Update on Your Civic Report</h2>
<p>We are sorry for the delay. The department working on your report <strong>%s</strong> needs <strong>%d more day(s)</strong> to complete the remediation.</p>
<p>The work is now planned across %d days in total. You can follow daily progress with your tracking code at any time.</p>
<p>Thank you for your patience and for helping improve your city.</p>
%s</body></html>`,
		issue.TrackingCode,
		extraDays,
		issue.TotalDays,
		footer,
	)

	return Message{To: issue.ReporterEmail, Subject: subject, HTML: body}
}
