package models

// All lists every table, in migration order.
func All() []interface{} {
	return []interface{}{
		&QuestionCategory{},
		&QuestionBankEntry{},
		&QuestionVersion{},
		&Question{},
		&DeployedSeed{},
		&Tag{},
		&TagInstance{},
		&SyncCopy{},
		&AdhocTask{},
		&PluginSetting{},
	}
}
