package outreach

import "github.com/MegaGrindStone/go-mcp-outreach"

// toolList is the catalog served by the gateway, in the order clients see it.
var toolList = []mcp.Tool{
	{
		Name:        "campaign_list",
		Description: "List every campaign of the account.",
		InputSchema: campaignListSchema,
	},
	{
		Name:        "campaign_get",
		Description: "Get a campaign by its ID.",
		InputSchema: campaignGetSchema,
	},
	{
		Name:        "campaign_create",
		Description: "Create a new campaign in drafted state.",
		InputSchema: campaignCreateSchema,
	},
	{
		Name:        "campaign_update_status",
		Description: "Start, pause or stop a campaign.",
		InputSchema: campaignUpdateStatusSchema,
	},
	{
		Name:        "campaign_update_schedule",
		Description: "Update the sending schedule of a campaign.",
		InputSchema: campaignUpdateScheduleSchema,
	},
	{
		Name: "campaign_update_settings",
		Description: `
Update the general settings of a campaign: tracking, stop conditions, unsubscribe text
and plain text sending.
`,
		InputSchema: campaignUpdateSettingsSchema,
	},
	{
		Name:        "campaign_delete",
		Description: "Delete a campaign permanently.",
		InputSchema: campaignDeleteSchema,
	},
	{
		Name:        "campaign_sequence_get",
		Description: "Get the email sequence of a campaign.",
		InputSchema: campaignSequenceGetSchema,
	},
	{
		Name: "campaign_sequence_save",
		Description: `
Save the email sequence of a campaign. Steps with an id are updated, steps without one
are created.
`,
		InputSchema: campaignSequenceSaveSchema,
	},
	{
		Name:        "lead_list_by_campaign",
		Description: "List the leads of a campaign, paginated with offset and limit.",
		InputSchema: leadListByCampaignSchema,
	},
	{
		Name:        "lead_get_by_email",
		Description: "Find a lead by its email address.",
		InputSchema: leadGetByEmailSchema,
	},
	{
		Name: "lead_add_to_campaign",
		Description: `
Add leads to a campaign. Large lists are split in batches of 100 leads, progress is
reported after every batch.
`,
		InputSchema: leadAddToCampaignSchema,
	},
	{
		Name:        "lead_update",
		Description: "Update a lead of a campaign.",
		InputSchema: leadUpdateSchema,
	},
	{
		Name:        "lead_pause",
		Description: "Pause a lead in a campaign.",
		InputSchema: leadActionSchema,
	},
	{
		Name:        "lead_resume",
		Description: "Resume a paused lead in a campaign, optionally after a delay in days.",
		InputSchema: leadResumeSchema,
	},
	{
		Name:        "lead_unsubscribe",
		Description: "Unsubscribe a lead from a campaign.",
		InputSchema: leadActionSchema,
	},
	{
		Name:        "lead_delete",
		Description: "Delete a lead from a campaign.",
		InputSchema: leadActionSchema,
	},
	{
		Name:        "lead_add_to_blocklist",
		Description: "Add email addresses or domains to the block list, globally or for one client.",
		InputSchema: leadAddToBlocklistSchema,
	},
	{
		Name: "lead_export",
		Description: `
Export the leads of a campaign as CSV. The file is returned base64 encoded, prefixed
with its content type.
`,
		InputSchema: leadExportSchema,
	},
	{
		Name:        "analytics_campaign_statistics",
		Description: "Get the per-lead email statistics of a campaign.",
		InputSchema: analyticsCampaignStatisticsSchema,
	},
	{
		Name:        "analytics_campaign_summary",
		Description: "Get the top level analytics of a campaign: sent, opened, clicked, replied and bounced counts.",
		InputSchema: analyticsCampaignSummarySchema,
	},
	{
		Name:        "analytics_campaign_by_date",
		Description: "Get the analytics of a campaign for a date range.",
		InputSchema: analyticsCampaignByDateSchema,
	},
	{
		Name:        "webhook_list",
		Description: "List the webhooks of a campaign.",
		InputSchema: webhookListSchema,
	},
	{
		Name:        "webhook_upsert",
		Description: "Create a webhook on a campaign, or update it when an id is given.",
		InputSchema: webhookUpsertSchema,
	},
	{
		Name:        "webhook_delete",
		Description: "Delete a webhook of a campaign.",
		InputSchema: webhookDeleteSchema,
	},
	{
		Name:        "email_account_list",
		Description: "List the sending email accounts of the account.",
		InputSchema: emailAccountListSchema,
	},
	{
		Name:        "email_account_add_to_campaign",
		Description: "Attach sending email accounts to a campaign.",
		InputSchema: emailAccountAddToCampaignSchema,
	},
}
