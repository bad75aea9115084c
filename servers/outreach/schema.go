package outreach

import "encoding/json"

// Input schemas of the tools. Path parameters are camelCase and always required, every other
// property carries the upstream field name so it can be forwarded untouched. Additional
// properties are allowed on purpose: they are passed through to the upstream API.

var campaignListSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "client_id": {
      "type": "integer",
      "description": "Only list the campaigns of this client"
    },
    "include_tags": {
      "type": "boolean",
      "description": "Include the tags of every campaign"
    }
  }
}`)

var campaignGetSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    }
  },
  "required": ["campaignId"]
}`)

var campaignCreateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {
      "type": "string",
      "description": "Name of the campaign"
    },
    "client_id": {
      "type": "integer",
      "description": "Client the campaign belongs to"
    }
  },
  "required": ["name"]
}`)

var campaignUpdateStatusSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "status": {
      "type": "string",
      "enum": ["START", "PAUSED", "STOPPED"],
      "description": "New status of the campaign"
    }
  },
  "required": ["campaignId", "status"]
}`)

var campaignUpdateScheduleSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "timezone": {
      "type": "string",
      "description": "IANA timezone of the schedule, e.g. America/New_York"
    },
    "days_of_the_week": {
      "type": "array",
      "items": {"type": "integer", "minimum": 0, "maximum": 6},
      "description": "Sending days, 0 is Sunday"
    },
    "start_hour": {
      "type": "string",
      "description": "Start of the sending window, HH:MM"
    },
    "end_hour": {
      "type": "string",
      "description": "End of the sending window, HH:MM"
    },
    "min_time_btw_emails": {
      "type": "integer",
      "description": "Minimum minutes between two emails"
    },
    "max_new_leads_per_day": {
      "type": "integer",
      "description": "Maximum number of new leads contacted per day"
    },
    "schedule_start_time": {
      "type": "string",
      "description": "ISO 8601 start time of the campaign"
    }
  },
  "required": ["campaignId", "timezone", "days_of_the_week", "start_hour", "end_hour"]
}`)

var campaignUpdateSettingsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "track_settings": {
      "type": "array",
      "items": {
        "type": "string",
        "enum": ["DONT_TRACK_EMAIL_OPEN", "DONT_TRACK_LINK_CLICK", "DONT_TRACK_REPLY_TO_AN_EMAIL"]
      }
    },
    "stop_lead_settings": {
      "type": "string",
      "enum": ["REPLY_TO_AN_EMAIL", "CLICK_ON_A_LINK", "OPEN_AN_EMAIL"]
    },
    "unsubscribe_text": {
      "type": "string"
    },
    "send_as_plain_text": {
      "type": "boolean"
    },
    "follow_up_percentage": {
      "type": "integer",
      "minimum": 0,
      "maximum": 100
    },
    "client_id": {
      "type": "integer"
    },
    "enable_ai_esp_matching": {
      "type": "boolean"
    }
  },
  "required": ["campaignId"]
}`)

var campaignDeleteSchema = campaignGetSchema

var campaignSequenceGetSchema = campaignGetSchema

var campaignSequenceSaveSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "sequences": {
      "type": "array",
      "description": "Ordered email steps of the campaign",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "integer", "description": "Set to update an existing step"},
          "seq_number": {"type": "integer"},
          "seq_delay_details": {
            "type": "object",
            "properties": {
              "delay_in_days": {"type": "integer"}
            }
          },
          "subject": {"type": "string"},
          "email_body": {"type": "string"}
        },
        "required": ["seq_number"]
      }
    }
  },
  "required": ["campaignId", "sequences"]
}`)

var leadListByCampaignSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "offset": {
      "type": "integer",
      "minimum": 0
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "maximum": 100
    }
  },
  "required": ["campaignId"]
}`)

var leadGetByEmailSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "email": {
      "type": "string",
      "description": "Email address of the lead"
    }
  },
  "required": ["email"]
}`)

var leadAddToCampaignSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "lead_list": {
      "type": "array",
      "description": "Leads to add, sent to the upstream API in batches of 100",
      "items": {
        "type": "object",
        "properties": {
          "email": {"type": "string"},
          "first_name": {"type": "string"},
          "last_name": {"type": "string"},
          "company_name": {"type": "string"},
          "phone_number": {"type": "string"},
          "website": {"type": "string"},
          "location": {"type": "string"},
          "linkedin_profile": {"type": "string"},
          "custom_fields": {"type": "object"}
        },
        "required": ["email"]
      }
    },
    "settings": {
      "type": "object",
      "properties": {
        "ignore_global_block_list": {"type": "boolean"},
        "ignore_unsubscribe_list": {"type": "boolean"},
        "ignore_duplicate_leads_in_other_campaign": {"type": "boolean"}
      }
    }
  },
  "required": ["campaignId", "lead_list"]
}`)

var leadUpdateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "leadId": {
      "type": ["integer", "string"],
      "description": "ID of the lead"
    },
    "email": {"type": "string"},
    "first_name": {"type": "string"},
    "last_name": {"type": "string"},
    "company_name": {"type": "string"},
    "phone_number": {"type": "string"},
    "website": {"type": "string"},
    "location": {"type": "string"},
    "custom_fields": {"type": "object"}
  },
  "required": ["campaignId", "leadId", "email"]
}`)

var leadActionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "leadId": {
      "type": ["integer", "string"],
      "description": "ID of the lead"
    }
  },
  "required": ["campaignId", "leadId"]
}`)

var leadResumeSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "leadId": {
      "type": ["integer", "string"],
      "description": "ID of the lead"
    },
    "resume_lead_with_delay_days": {
      "type": "integer",
      "minimum": 0,
      "description": "Days to wait before the next email is sent"
    }
  },
  "required": ["campaignId", "leadId"]
}`)

var leadAddToBlocklistSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "emails": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Email addresses or domains to block"
    },
    "client_id": {
      "type": "integer",
      "description": "Restrict the block to this client, global when omitted"
    }
  },
  "required": ["emails"]
}`)

var leadExportSchema = campaignGetSchema

var analyticsCampaignStatisticsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "offset": {"type": "integer", "minimum": 0},
    "limit": {"type": "integer", "minimum": 1},
    "email_sequence_number": {"type": "integer"},
    "email_status": {
      "type": "string",
      "enum": ["opened", "clicked", "replied", "unsubscribed", "bounced"]
    }
  },
  "required": ["campaignId"]
}`)

var analyticsCampaignSummarySchema = campaignGetSchema

var analyticsCampaignByDateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "start_date": {
      "type": "string",
      "description": "First day, YYYY-MM-DD"
    },
    "end_date": {
      "type": "string",
      "description": "Last day, YYYY-MM-DD"
    }
  },
  "required": ["campaignId", "start_date", "end_date"]
}`)

var webhookListSchema = campaignGetSchema

var webhookUpsertSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "id": {
      "type": ["integer", "null"],
      "description": "ID of the webhook to update, null to create one"
    },
    "name": {"type": "string"},
    "webhook_url": {"type": "string"},
    "event_types": {
      "type": "array",
      "items": {
        "type": "string",
        "enum": ["EMAIL_SENT", "EMAIL_OPEN", "EMAIL_LINK_CLICK", "EMAIL_REPLY", "LEAD_UNSUBSCRIBED", "LEAD_CATEGORY_UPDATED"]
      }
    },
    "categories": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["campaignId", "name", "webhook_url", "event_types"]
}`)

var webhookDeleteSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "id": {
      "type": "integer",
      "description": "ID of the webhook"
    }
  },
  "required": ["campaignId", "id"]
}`)

var emailAccountListSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "offset": {"type": "integer", "minimum": 0},
    "limit": {"type": "integer", "minimum": 1, "maximum": 100}
  }
}`)

var emailAccountAddToCampaignSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "campaignId": {
      "type": ["integer", "string"],
      "description": "ID of the campaign"
    },
    "email_account_ids": {
      "type": "array",
      "items": {"type": "integer"}
    }
  },
  "required": ["campaignId", "email_account_ids"]
}`)
