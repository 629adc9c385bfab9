package conversation

const vicunaSystem = "A chat between a curious user and an artificial intelligence assistant. " +
	"The assistant gives helpful, detailed, and polite answers to the user's questions."

func fschatTemplates() []*Conversation {
	return []*Conversation{
		{
			Name:  "raw",
			Style: NoColonSingle,
		},
		{
			Name:          "vicuna_v1.1",
			SystemMessage: vicunaSystem,
			Roles:         [2]string{"USER", "ASSISTANT"},
			Style:         AddColonTwo,
			Sep:           " ",
			Sep2:          "</s>",
		},
		{
			Name:           "llama-2",
			SystemTemplate: "[INST] <<SYS>>\n{system_message}\n<</SYS>>\n\n",
			Roles:          [2]string{"[INST]", "[/INST]"},
			Style:          Llama2,
			Sep:            " ",
			Sep2:           " </s><s>",
		},
		{
			Name:           "mistral",
			SystemTemplate: "[INST] {system_message}\n",
			Roles:          [2]string{"[INST]", "[/INST]"},
			Style:          Llama2,
			Sep:            " ",
			Sep2:           "</s>",
		},
		{
			Name:           "llama-3",
			SystemTemplate: "<|start_header_id|>system<|end_header_id|>\n\n{system_message}<|eot_id|>",
			Roles:          [2]string{"user", "assistant"},
			Style:          Llama3,
			StopStr:        []string{"<|eot_id|>"},
			StopTokenIDs:   []int{128001, 128009},
		},
		{
			Name:           "chatml",
			SystemTemplate: "<|im_start|>system\n{system_message}",
			Roles:          [2]string{"<|im_start|>user", "<|im_start|>assistant"},
			Style:          ChatML,
			Sep:            "<|im_end|>",
		},
		{
			Name:           "qwen-7b-chat",
			SystemTemplate: "<|im_start|>system\n{system_message}",
			SystemMessage:  "You are a helpful assistant.",
			Roles:          [2]string{"<|im_start|>user", "<|im_start|>assistant"},
			Style:          ChatML,
			Sep:            "<|im_end|>",
			StopStr:        []string{"<|endoftext|>"},
			StopTokenIDs:   []int{151643, 151644, 151645},
		},
		{
			Name:           "Yi-34b-chat",
			SystemTemplate: "<|im_start|>system\n{system_message}",
			Roles:          [2]string{"<|im_start|>user", "<|im_start|>assistant"},
			Style:          ChatML,
			Sep:            "<|im_end|>",
			StopStr:        []string{"<|endoftext|>"},
			StopTokenIDs:   []int{2, 6, 7, 8},
		},
		{
			Name:           "internlm2-chat",
			SystemTemplate: "<|im_start|>system\n{system_message}",
			Roles:          [2]string{"<|im_start|>user", "<|im_start|>assistant"},
			Style:          ChatML,
			Sep:            "<|im_end|>",
			StopStr:        []string{"<|im_end|>"},
			StopTokenIDs:   []int{2, 92543},
		},
		{
			Name:    "gemma",
			Roles:   [2]string{"user", "model"},
			Style:   Gemma,
			Sep:     "<end_of_turn>\n",
			StopStr: []string{"<end_of_turn>"},
		},
		{
			Name:         "deepseek-chat",
			Roles:        [2]string{"User", "Assistant"},
			Style:        DeepSeekChat,
			Sep:          "\n\n",
			Sep2:         "<｜end▁of▁sentence｜>",
			StopStr:      []string{"<｜end▁of▁sentence｜>"},
			StopTokenIDs: []int{100001},
		},
		{
			Name:  "openchat_3.5",
			Roles: [2]string{"GPT4 Correct User", "GPT4 Correct Assistant"},
			Style: FalconChat,
			Sep:   "<|end_of_turn|>",
		},
		{
			Name:          "solar",
			SystemMessage: "",
			Roles:         [2]string{"### User", "### Assistant"},
			Style:         AddNewLineSingle,
			Sep:           "\n\n",
			StopStr:       []string{"</s>"},
		},
		{
			Name:           "phi-3",
			SystemTemplate: "<|system|>\n{system_message}",
			Roles:          [2]string{"<|user|>", "<|assistant|>"},
			Style:          Phi3,
			Sep:            "<|end|>",
			StopStr:        []string{"<|end|>"},
		},
		{
			Name:          "sqlcoder",
			SystemMessage: "",
			Roles:         [2]string{"### Question", "### Answer"},
			Style:         AddNewLineSingle,
			Sep:           "\n\n",
		},
	}
}

// legacyTemplates is the in-repo template set selected by PromptTypeDBGPT.
func legacyTemplates() []*Conversation {
	return []*Conversation{
		{
			Name:          "zero_shot",
			SystemMessage: vicunaSystem,
			Roles:         [2]string{"Human", "Assistant"},
			Style:         AddColonSingle,
			Sep:           "\n### ",
		},
		{
			Name:          "vicuna_v1.1",
			SystemMessage: vicunaSystem,
			Roles:         [2]string{"USER", "ASSISTANT"},
			Style:         AddColonTwo,
			Sep:           " ",
			Sep2:          "</s>",
		},
		{
			Name:           "llama-2",
			SystemTemplate: "[INST] <<SYS>>\n{system_message}\n<</SYS>>\n\n",
			Roles:          [2]string{"[INST]", "[/INST]"},
			Style:          Llama2,
			Sep:            " ",
			Sep2:           " </s><s>",
			StopTokenIDs:   []int{2},
		},
		{
			Name:           "codellama",
			SystemTemplate: "[INST] <<SYS>>\n{system_message}\n<</SYS>>\n\n",
			SystemMessage:  "I want you to act as a SQL terminal in front of an example database.",
			Roles:          [2]string{"[INST]", "[/INST]"},
			Style:          Llama2,
			Sep:            " ",
			Sep2:           " </s><s>",
			StopTokenIDs:   []int{2},
		},
		{
			Name:          "internlm-chat",
			SystemMessage: "",
			Roles:         [2]string{"<|User|>", "<|Bot|>"},
			Style:         AddColonTwo,
			Sep:           "<eoh>\n",
			Sep2:          "<eoa>\n",
			StopStr:       []string{"<eoa>"},
			StopTokenIDs:  []int{1, 103028},
		},
		{
			Name:           "qwen-7b-chat",
			SystemTemplate: "<|im_start|>system\n{system_message}",
			SystemMessage:  "You are a helpful assistant.",
			Roles:          [2]string{"<|im_start|>user", "<|im_start|>assistant"},
			Style:          ChatML,
			Sep:            "<|im_end|>",
			StopStr:        []string{"<|endoftext|>"},
			StopTokenIDs:   []int{151643, 151644, 151645},
		},
	}
}
